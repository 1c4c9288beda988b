// Package history is the bounded, session-scoped log of completed searches.
// Entries are referenced by 1-based slot number from composition
// expressions and from the save, export and delete actions.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cohortbuilder/internal/platform/metrics"
	"github.com/ehr/cohortbuilder/internal/platform/notification"
	"github.com/ehr/cohortbuilder/internal/platform/session"
)

// Limits bounds the log.
type Limits struct {
	// MaxItems is the number of entries kept; older entries are dropped first.
	MaxItems int
	// MaxPatients caps the results stored per entry.
	MaxPatients int
	// FallbackItems is how many entries are kept when the store runs out of quota.
	FallbackItems int
}

func DefaultLimits() Limits {
	return Limits{MaxItems: 50, MaxPatients: 100, FallbackItems: 10}
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Append outcomes, as recorded in metrics.
const (
	outcomeSaved    = "saved"
	outcomeFallback = "fallback"
	outcomeDropped  = "dropped"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Log is the search history of the session carried by each call's context.
// Bookkeeping failures are reported through the notifier, never to callers
// of Append.
type Log struct {
	store    Store
	notifier notification.Notifier
	logger   zerolog.Logger
	limits   Limits
	now      func() time.Time

	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the mutexes guarding read-modify-write cycles; keys
// sharing a stripe serialize.
const lockStripes = 64

func NewLog(store Store, notifier notification.Notifier, logger zerolog.Logger, limits Limits) *Log {
	if notifier == nil {
		notifier = notification.Discard
	}
	return &Log{
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "history").Logger(),
		limits:   limits,
		now:      time.Now,
	}
}

func (l *Log) lock(key string) func() {
	m := &l.locks[stripe(key)]
	m.Lock()
	return m.Unlock
}

func stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}

func keyFor(ctx context.Context) string {
	return Key(session.FromContext(ctx))
}

// Append records a completed search and reports whether it was persisted.
// parameters must encode to a JSON object or array.
func (l *Log) Append(ctx context.Context, description string, patients []Patient, parameters any) bool {
	params, ok := encodeParameters(parameters)
	if patients == nil || !ok {
		metrics.HistoryAppends.WithLabelValues(outcomeRejected).Inc()
		return false
	}
	if len(patients) > l.limits.MaxPatients {
		patients = patients[:l.limits.MaxPatients]
	}

	key := keyFor(ctx)
	unlock := l.lock(key)
	defer unlock()

	saved, err := l.append(ctx, key, Item{
		Description: description,
		Patients:    patients,
		Parameters:  params,
		Timestamp:   l.now().UTC().Format(timestampLayout),
	})
	if err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("failed to record search history")
		l.notifier.Notify(ctx, notification.Notification{
			Kind:    notification.KindError,
			Title:   "History Error",
			Message: "Could not save search to history, but your search completed successfully.",
		})
		metrics.HistoryAppends.WithLabelValues(outcomeFailed).Inc()
		return false
	}
	return saved
}

func (l *Log) append(ctx context.Context, key string, item Item) (bool, error) {
	old, err := l.loadForAppend(ctx, key)
	if err != nil {
		return false, err
	}
	entry, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("encode entry: %w", err)
	}

	next := tail(append(old, entry), l.limits.MaxItems)
	err = l.persist(ctx, key, next)
	if err == nil {
		metrics.HistoryAppends.WithLabelValues(outcomeSaved).Inc()
		return true, nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		return false, err
	}

	reduced := tail(next, l.limits.FallbackItems)
	if err := l.persist(ctx, key, reduced); err == nil {
		l.logger.Warn().Str("key", key).Int("kept", len(reduced)).Msg("history quota exceeded, older entries dropped")
		l.notifier.Notify(ctx, notification.Notification{
			Kind:    notification.KindWarning,
			Title:   "Search History Limit Reached",
			Message: "Older search history has been cleared to save space.",
		})
		metrics.HistoryAppends.WithLabelValues(outcomeFallback).Inc()
		return true, nil
	}

	l.logger.Error().Str("key", key).Msg("history unavailable, clearing")

	if err := l.store.Remove(ctx, key); err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("failed to clear history")
	}
	l.notifier.Notify(ctx, notification.Notification{
		Kind:    notification.KindError,
		Title:   "Search History Unavailable",
		Message: "Unable to save search history. Your searches will still work.",
	})
	metrics.HistoryAppends.WithLabelValues(outcomeDropped).Inc()
	return false, nil
}

// loadForAppend returns the stored entries. Unparseable data is removed and
// any other non-list value is treated as empty.
func (l *Log) loadForAppend(ctx context.Context, key string) ([]json.RawMessage, error) {
	blob, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || blob == "" {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		if json.Valid([]byte(blob)) {
			return nil, nil
		}
		l.logger.Warn().Str("key", key).Msg("discarding corrupted search history")
		if err := l.store.Remove(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return entries, nil
}

func (l *Log) persist(ctx context.Context, key string, entries []json.RawMessage) error {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return l.store.Set(ctx, key, string(blob))
}

// Read returns the well-formed entries in log order, each carrying the slot
// id of its stored position. Unreadable storage is cleared and read as empty.
func (l *Log) Read(ctx context.Context) []Entry {
	key := keyFor(ctx)
	unlock := l.lock(key)
	defer unlock()
	return l.read(ctx, key)
}

func (l *Log) read(ctx context.Context, key string) []Entry {
	entries := []Entry{}

	blob, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("error reading search history")
		l.clear(ctx, key)
		return entries
	}
	if !ok || blob == "" {
		return entries
	}

	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raws); err != nil {
		l.logger.Warn().Str("key", key).Msg("invalid history data format, resetting")
		l.clear(ctx, key)
		return entries
	}

	for i, raw := range raws {
		e, ok := decodeEntry(raw)
		if !ok {
			continue
		}
		e.ID = strconv.Itoa(i + 1)
		entries = append(entries, e)
	}
	return entries
}

func (l *Log) clear(ctx context.Context, key string) {
	if err := l.store.Remove(ctx, key); err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("error clearing corrupted history")
	}
}

func decodeEntry(raw json.RawMessage) (Entry, bool) {
	var probe struct {
		Patients json.RawMessage `json:"patients"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Entry{}, false
	}
	if p := bytes.TrimSpace(probe.Patients); len(p) == 0 || p[0] != '[' {
		return Entry{}, false
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return Entry{}, false
	}
	if item.Patients == nil {
		item.Patients = []Patient{}
	}
	return Entry{Item: item, Results: len(item.Patients), raw: raw}, true
}

// Get returns the entry with the given slot id.
func (l *Log) Get(ctx context.Context, id string) (Entry, error) {
	for _, e := range l.Read(ctx) {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// RemoveOne deletes the entry with the given slot id and persists the
// remaining well-formed entries. Later entries move down one slot.
func (l *Log) RemoveOne(ctx context.Context, id string) error {
	key := keyFor(ctx)
	unlock := l.lock(key)
	defer unlock()

	entries := l.read(ctx, key)
	remaining := make([]json.RawMessage, 0, len(entries))
	found := false
	for _, e := range entries {
		if e.ID == id && !found {
			found = true
			continue
		}
		remaining = append(remaining, e.raw)
	}
	if !found {
		return ErrNotFound
	}
	if err := l.persist(ctx, key, remaining); err != nil {
		return fmt.Errorf("remove history entry %s: %w", id, err)
	}
	return nil
}

// ClearAll removes the session's history.
func (l *Log) ClearAll(ctx context.Context) error {
	key := keyFor(ctx)
	unlock := l.lock(key)
	defer unlock()
	if err := l.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// RawHistory returns the stored blob as is, or nil when nothing is stored.
func (l *Log) RawHistory(ctx context.Context) (json.RawMessage, error) {
	key := keyFor(ctx)
	unlock := l.lock(key)
	defer unlock()

	blob, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || blob == "" {
		return nil, nil
	}
	return json.RawMessage(blob), nil
}

func encodeParameters(parameters any) (json.RawMessage, bool) {
	var raw []byte
	switch p := parameters.(type) {
	case nil:
		return nil, false
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, false
		}
		raw = b
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '{' && raw[0] != '[') || !json.Valid(raw) {
		return nil, false
	}
	return json.RawMessage(raw), true
}

func tail(entries []json.RawMessage, n int) []json.RawMessage {
	if n < 0 {
		n = 0
	}
	if len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}
