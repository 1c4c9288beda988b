package history

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultQuotaBytes approximates the per-origin browser session storage limit.
const DefaultQuotaBytes = 5 << 20

// MemoryStore keeps blobs in process memory. A key not written for ttl is
// dropped, which ends its session; when more than size sessions are live the
// least recently used is evicted.
type MemoryStore struct {
	cache *expirable.LRU[string, string]
	quota int
}

// NewMemoryStore creates a store for up to size sessions. quota bounds the
// length of a single value; zero disables the check.
func NewMemoryStore(size int, ttl time.Duration, quota int) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, string](size, nil, ttl),
		quota: quota,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.cache.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if s.quota > 0 && len(value) > s.quota {
		return ErrQuotaExceeded
	}
	s.cache.Add(key, value)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
