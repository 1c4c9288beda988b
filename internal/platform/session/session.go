// Package session scopes per-user state (search history, notifications) to
// a browser session.
package session

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cohortbuilder/internal/platform/auth"
)

type contextKey string

const (
	IDKey contextKey = "session_id"

	// Header carries the session id when the token has no sid claim.
	Header = "X-Session-ID"

	// Anonymous is used when no session can be resolved.
	Anonymous = "anonymous"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// WithID returns a context scoped to the given session.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, IDKey, id)
}

// FromContext returns the session id, or Anonymous when none is set.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return Anonymous
	}
	if id, ok := ctx.Value(IDKey).(string); ok && id != "" {
		return id
	}
	return Anonymous
}

// Resolve derives the session id of a request. An authenticated subject
// owns its sessions: the sid claim or X-Session-ID only selects among them
// ("sub:sid"), and the bare subject is used when neither is given. Without a
// subject the sid claim is used as is and a header id is namespaced under
// Anonymous, so it can never name a subject's session.
func Resolve(subject, claim, header string) string {
	sid := claim
	if sid == "" {
		sid = header
	}
	switch {
	case subject != "" && sid != "":
		return subject + ":" + sid
	case subject != "":
		return subject
	case claim != "":
		return claim
	case header != "":
		return Anonymous + ":" + header
	default:
		return Anonymous
	}
}

// Middleware stores the resolved session id on the request context and
// under "session_id".
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			id := Resolve(
				auth.UserIDFromContext(ctx),
				auth.SessionIDFromContext(ctx),
				c.Request().Header.Get(Header),
			)
			if !idPattern.MatchString(id) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid session identifier")
			}

			c.SetRequest(c.Request().WithContext(WithID(ctx, id)))
			c.Set("session_id", id)
			return next(c)
		}
	}
}
