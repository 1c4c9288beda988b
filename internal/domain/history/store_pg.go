package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cohortbuilder/internal/platform/db"
)

// PGStore persists blobs in the search_history table so history survives
// restarts and is shared between replicas.
type PGStore struct {
	pool  *pgxpool.Pool
	quota int
}

func NewPGStore(pool *pgxpool.Pool, quota int) *PGStore {
	return &PGStore{pool: pool, quota: quota}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *PGStore) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *PGStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT value FROM search_history WHERE storage_key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get history %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PGStore) Set(ctx context.Context, key, value string) error {
	if s.quota > 0 && len(value) > s.quota {
		return ErrQuotaExceeded
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO search_history (storage_key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (storage_key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("set history %s: %w", key, err)
	}
	return nil
}

func (s *PGStore) Remove(ctx context.Context, key string) error {
	if _, err := s.conn(ctx).Exec(ctx, `DELETE FROM search_history WHERE storage_key = $1`, key); err != nil {
		return fmt.Errorf("remove history %s: %w", key, err)
	}
	return nil
}

// PurgeIdle deletes sessions not written within ttl and returns how many were removed.
func (s *PGStore) PurgeIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM search_history WHERE updated_at < $1`, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("purge idle history: %w", err)
	}
	return tag.RowsAffected(), nil
}
