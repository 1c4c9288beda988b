package export

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		data, _ := io.ReadAll(in.Body)
		f.body = string(data)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUpload(t *testing.T) {
	fake := &fakePutter{}
	u := newUploader(fake, "cohorts", zerolog.Nop())

	loc, err := u.Upload(context.Background(), "/exports/s1/a.csv", "text/csv", []byte("a,b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "s3://cohorts/exports/s1/a.csv" {
		t.Errorf("expected s3://cohorts/exports/s1/a.csv, got %s", loc)
	}
	if aws.ToString(fake.input.Bucket) != "cohorts" {
		t.Errorf("expected bucket cohorts, got %s", aws.ToString(fake.input.Bucket))
	}
	if aws.ToString(fake.input.Key) != "exports/s1/a.csv" {
		t.Errorf("expected key without leading slash, got %s", aws.ToString(fake.input.Key))
	}
	if aws.ToString(fake.input.ContentType) != "text/csv" {
		t.Errorf("expected content type text/csv, got %s", aws.ToString(fake.input.ContentType))
	}
	if fake.body != "a,b" {
		t.Errorf("expected body a,b, got %s", fake.body)
	}
}

func TestUpload_Error(t *testing.T) {
	fake := &fakePutter{err: errors.New("access denied")}
	u := newUploader(fake, "cohorts", zerolog.Nop())

	_, err := u.Upload(context.Background(), "k.csv", "text/csv", nil)
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("expected wrapped upload error, got %v", err)
	}
}

func TestUpload_EmptyKey(t *testing.T) {
	u := newUploader(&fakePutter{}, "cohorts", zerolog.Nop())
	if _, err := u.Upload(context.Background(), "/", "text/csv", nil); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestNewS3Client_StaticCredentials(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Bucket:    "cohorts",
		Region:    "eu-central-1",
		Endpoint:  "http://localhost:9000",
		AccessKey: "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
	if client.Options().Region != "eu-central-1" {
		t.Errorf("expected region eu-central-1, got %s", client.Options().Region)
	}
	if !client.Options().UsePathStyle {
		t.Error("expected path-style addressing for a custom endpoint")
	}
}
