package auth

import (
	"context"
	"testing"
)

func TestWithContext_FromContext(t *testing.T) {
	authCtx := &AuthContext{Client: "10.0.0.2", Authenticated: true}

	ctx := WithContext(context.Background(), authCtx)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() returned nil")
	}
	if got.Client != "10.0.0.2" {
		t.Errorf("FromContext().Client = %v, want 10.0.0.2", got.Client)
	}
}

func TestFromContext_NoAuth(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Error("FromContext() should return nil for context without auth")
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey, "not-auth-context")

	if got := FromContext(ctx); got != nil {
		t.Error("FromContext() should return nil for wrong type")
	}
}
