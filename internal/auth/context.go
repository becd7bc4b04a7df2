package auth

import (
	"context"
)

// AuthContext describes the caller of an /mcp request
type AuthContext struct {
	// Client is the remote host the request came from, without port
	Client string
	// Authenticated is true when a configured bearer token was presented
	Authenticated bool
}

type contextKey string

const authContextKey contextKey = "auth"

// WithContext adds an AuthContext to the context
func WithContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// FromContext retrieves the AuthContext from the context
func FromContext(ctx context.Context) *AuthContext {
	auth, ok := ctx.Value(authContextKey).(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
