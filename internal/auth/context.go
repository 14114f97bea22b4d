package auth

import (
	"context"
	"strings"
)

type usernameContextKey struct{}

// ContextWithUsername stores the authenticated username in the context.
func ContextWithUsername(ctx context.Context, username string) context.Context {
	username = strings.TrimSpace(username)
	if username == "" {
		return ctx
	}
	return context.WithValue(ctx, usernameContextKey{}, username)
}

// UsernameFromContext extracts the authenticated username from the context.
func UsernameFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(usernameContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
