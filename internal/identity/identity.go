// Package identity resolves the client session a request belongs to.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

const (
	SessionHeaderName     = "X-Companion-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext extracts the client session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(id))
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		// Browsers cannot set headers on websocket upgrades.
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return sid
}

// Middleware injects the per-request client session ID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithSessionID(r.Context(), sessionIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
