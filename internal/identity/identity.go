// Package identity resolves the caller identity used for rate limiting,
// run records and transcripts.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// ClientHeaderName lets a caller name itself instead of being keyed by IP.
	ClientHeaderName = "X-Client-ID"
	// RunHeaderName carries the run id on chat responses.
	RunHeaderName = "X-Run-ID"
	// UnknownClientID is used when no identity can be derived.
	UnknownClientID = "unknown"
)

type contextKey int

const (
	clientIDKey contextKey = iota
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return UnknownClientID
}

// WithClientID returns a context carrying clientID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

func sanitizeClientID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !clientIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// ClientIDFromRequest returns the X-Client-ID header when valid, otherwise the
// remote IP.
func ClientIDFromRequest(r *http.Request) string {
	if id := sanitizeClientID(r.Header.Get(ClientHeaderName)); id != "" {
		return id
	}
	if ip := IPFromRequest(r); ip != "" {
		return ip
	}
	return UnknownClientID
}

// Middleware injects the client ID into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientID(r.Context(), ClientIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
