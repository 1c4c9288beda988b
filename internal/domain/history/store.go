package history

import (
	"context"
	"errors"
)

// KeyPrefix namespaces history blobs; the session id is appended.
const KeyPrefix = "openmrsHistory"

var (
	// ErrQuotaExceeded is returned by Store.Set when the value does not fit.
	ErrQuotaExceeded = errors.New("history: storage quota exceeded")
	ErrNotFound      = errors.New("history: entry not found")
)

// Store is a session-scoped key/value store holding serialized blobs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Key returns the storage key of a session's history.
func Key(sessionID string) string {
	return KeyPrefix + ":" + sessionID
}
