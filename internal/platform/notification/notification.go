// Package notification delivers fire-and-forget user notifications (search
// completed, history degraded, validation failures) to a log sink and to a
// bounded per-session feed that the UI polls over HTTP.
package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cohortbuilder/internal/platform/session"
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

// Kind is the severity shown to the user.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Notification is a single user-facing message.
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Session   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier accepts notifications. Implementations must not block the caller
// and never report failure.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// stamp fills the id, timestamp and session of n from ctx.
func stamp(ctx context.Context, n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Session == "" {
		n.Session = session.FromContext(ctx)
	}
	return n
}

// ---------------------------------------------------------------------------
// Log Notifier
// ---------------------------------------------------------------------------

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notification").Logger()}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	n = stamp(ctx, n)
	var ev *zerolog.Event
	switch n.Kind {
	case KindError:
		ev = l.logger.Error()
	case KindWarning:
		ev = l.logger.Warn()
	default:
		ev = l.logger.Info()
	}
	ev.Str("notification_id", n.ID).
		Str("kind", string(n.Kind)).
		Str("session", n.Session).
		Str("title", n.Title).
		Msg(n.Message)
}

// ---------------------------------------------------------------------------
// Feed
// ---------------------------------------------------------------------------

// DefaultFeedSize bounds each session's pending notifications.
const DefaultFeedSize = 20

// Feed keeps the most recent notifications per session until drained.
type Feed struct {
	mu      sync.Mutex
	size    int
	pending map[string][]Notification
}

// NewFeed creates a Feed holding at most size notifications per session.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{size: size, pending: make(map[string][]Notification)}
}

func (f *Feed) Notify(ctx context.Context, n Notification) {
	n = stamp(ctx, n)
	f.mu.Lock()
	defer f.mu.Unlock()
	list := append(f.pending[n.Session], n)
	if len(list) > f.size {
		list = list[len(list)-f.size:]
	}
	f.pending[n.Session] = list
}

// Drain returns and forgets the pending notifications of a session, oldest first.
func (f *Feed) Drain(sessionID string) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.pending[sessionID]
	delete(f.pending, sessionID)
	if list == nil {
		return []Notification{}
	}
	return list
}

// Forget drops a session's pending notifications.
func (f *Feed) Forget(sessionID string) {
	f.mu.Lock()
	delete(f.pending, sessionID)
	f.mu.Unlock()
}

// Expire drops notifications created more than maxAge ago, and the sessions
// left with none. It returns the number of sessions removed.
func (f *Feed) Expire(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for id, list := range f.pending {
		keep := list[:0]
		for _, n := range list {
			if n.CreatedAt.After(cutoff) {
				keep = append(keep, n)
			}
		}
		if len(keep) == 0 {
			delete(f.pending, id)
			removed++
			continue
		}
		f.pending[id] = keep
	}
	return removed
}

// Sessions returns the number of sessions with pending notifications.
func (f *Feed) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Pending returns the number of notifications waiting for a session.
func (f *Feed) Pending(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[sessionID])
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

// Multi delivers to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	n = stamp(ctx, n)
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, Notification) {}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes the feed of the caller's session.
type Handler struct {
	feed *Feed
}

func NewHandler(feed *Feed) *Handler {
	return &Handler{feed: feed}
}

// RegisterRoutes registers the notification routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleDrain)
	g.DELETE("/notifications", h.HandleClear)
}

// HandleDrain handles GET /notifications: returns pending notifications and
// marks them delivered.
func (h *Handler) HandleDrain(c echo.Context) error {
	list := h.feed.Drain(session.FromContext(c.Request().Context()))
	return c.JSON(http.StatusOK, list)
}

// HandleClear handles DELETE /notifications.
func (h *Handler) HandleClear(c echo.Context) error {
	h.feed.Forget(session.FromContext(c.Request().Context()))
	return c.NoContent(http.StatusNoContent)
}
