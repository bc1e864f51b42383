// Package correlation carries request correlation ids through contexts.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header used to pass correlation ids.
const Header = "X-Correlation-ID"

type ctxKey struct{}

// New generates a fresh correlation id.
func New() string {
	return uuid.New().String()
}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns ctx with a correlation id, generating one if absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}

// Short returns the first eight characters of id, used in user-facing errors.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
