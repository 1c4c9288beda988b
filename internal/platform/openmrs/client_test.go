package openmrs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recorded struct {
	method string
	path   string
	query  string
	user   string
	pass   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int, response string) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.user, rec.pass, _ = r.BasicAuth()
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			json.Unmarshal(data, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/ws/rest/v1/", WithBasicAuth("admin", "Admin123")), rec
}

func TestSearch(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK,
		`{"rows":[{"patientId":7,"firstname":"Jane","lastname":"Doe","gender":"F","age":34}]}`)

	rows, err := c.Search(context.Background(), map[string]any{"query": map[string]any{"type": "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/ws/rest/v1/reportingrest/adhocquery" || rec.query != "v=full" {
		t.Errorf("unexpected request %s %s?%s", rec.method, rec.path, rec.query)
	}
	if rec.user != "admin" || rec.pass != "Admin123" {
		t.Errorf("expected basic auth, got %q/%q", rec.user, rec.pass)
	}
	if _, ok := rec.body["query"]; !ok {
		t.Errorf("expected query envelope in body, got %v", rec.body)
	}
	if len(rows) != 1 || rows[0].PatientID != 7 || rows[0].Firstname != "Jane" || rows[0].Age != 34 {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestSearch_APIError(t *testing.T) {
	c, _ := newTestServer(t, http.StatusBadRequest,
		`{"error":{"message":"Invalid row filter","code":"webservices.rest"}}`)

	_, err := c.Search(context.Background(), map[string]any{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Invalid row filter" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestAPIError_PlainBody(t *testing.T) {
	c, _ := newTestServer(t, http.StatusBadGateway, ``)
	_, err := c.ListCohorts(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Bad Gateway" {
		t.Errorf("expected Bad Gateway APIError, got %v", err)
	}
}

func TestCreateCohort(t *testing.T) {
	c, rec := newTestServer(t, http.StatusCreated, `{"uuid":"c-1","name":"Adults","display":"Adults"}`)

	created, err := c.CreateCohort(context.Background(), Cohort{
		Display: "Adults", Name: "Adults", Description: "over 18", MemberIDs: []int{1, 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.path != "/ws/rest/v1/cohort" || rec.method != http.MethodPost {
		t.Errorf("unexpected request %s %s", rec.method, rec.path)
	}
	ids, _ := rec.body["memberIds"].([]any)
	if len(ids) != 2 || rec.body["display"] != "Adults" {
		t.Errorf("unexpected body %v", rec.body)
	}
	if created.UUID != "c-1" {
		t.Errorf("expected uuid c-1, got %s", created.UUID)
	}
}

func TestListCohorts(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK,
		`{"results":[{"uuid":"a","name":"One","description":"first"},{"uuid":"b","name":"Two"}]}`)

	cohorts, err := c.ListCohorts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.query != "v=full" {
		t.Errorf("expected full view, got %q", rec.query)
	}
	if len(cohorts) != 2 || cohorts[0].Description != "first" {
		t.Errorf("unexpected cohorts %+v", cohorts)
	}
}

func TestDeleteCohort(t *testing.T) {
	c, rec := newTestServer(t, http.StatusNoContent, ``)
	if err := c.DeleteCohort(context.Background(), "a b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.method != http.MethodDelete || rec.path != "/ws/rest/v1/cohort/a b" {
		t.Errorf("unexpected request %s %s", rec.method, rec.path)
	}
}

func TestDeleteCohort_NotFound(t *testing.T) {
	c, _ := newTestServer(t, http.StatusNotFound, `{"error":{"message":"Object with given uuid doesn't exist"}}`)
	err := c.DeleteCohort(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCohortMembers(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK,
		`{"results":[{"uuid":"m1","patient":{"uuid":"p1","person":{"display":"Jane Doe","gender":"F","age":40}}}]}`)

	members, err := c.CohortMembers(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.path != "/ws/rest/v1/cohort/c-1/member" || rec.query != "v=full" {
		t.Errorf("unexpected request %s?%s", rec.path, rec.query)
	}
	if len(members) != 1 || members[0].Patient.Person.Display != "Jane Doe" {
		t.Errorf("unexpected members %+v", members)
	}
}

func TestDefinitions(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK, `{"results":[{"uuid":"d1","name":"Q","description":"saved"}]}`)
	defs, err := c.ListDefinitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.path != "/ws/rest/v1/reportingrest/adhocdataset" || len(defs) != 1 || defs[0].UUID != "d1" {
		t.Errorf("unexpected result %s %+v", rec.path, defs)
	}

	c, rec = newTestServer(t, http.StatusOK, `{"rows":[{"patientId":3}]}`)
	rows, err := c.EvaluateDefinition(context.Background(), "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.path != "/ws/rest/v1/reportingrest/dataSet/d1" || len(rows) != 1 {
		t.Errorf("unexpected result %s %+v", rec.path, rows)
	}

	c, rec = newTestServer(t, http.StatusOK, `{"uuid":"d2","name":"Adults"}`)
	def, err := c.CreateDefinition(context.Background(), map[string]any{"name": "Adults"})
	if err != nil || def.UUID != "d2" || rec.method != http.MethodPost {
		t.Errorf("unexpected create result %+v %v", def, err)
	}

	c, rec = newTestServer(t, http.StatusNoContent, ``)
	if err := c.DeleteDefinition(context.Background(), "d2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.path != "/ws/rest/v1/reportingrest/adhocdataset/d2" {
		t.Errorf("unexpected path %s", rec.path)
	}
}

func TestClient_NoAuth(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK, `{"results":[]}`)
	c.username = ""
	if _, err := c.ListCohorts(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.user != "" {
		t.Errorf("expected no basic auth, got %q", rec.user)
	}
}
