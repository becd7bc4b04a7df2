package mcp

import (
	"context"

	"github.com/HyphaGroup/plotd/internal/audit"
	"github.com/HyphaGroup/plotd/internal/auth"
	"github.com/HyphaGroup/plotd/internal/logger"
)

type contextKey string

const contextKeyRemoteAddr contextKey = "plotd-remote-addr"

// WithRemoteAddr adds the remote address to context
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, contextKeyRemoteAddr, addr)
}

// GetRemoteAddr extracts the remote address from context
func GetRemoteAddr(ctx context.Context) string {
	if val, ok := ctx.Value(contextKeyRemoteAddr).(string); ok {
		return val
	}
	return ""
}

// clientOf names the caller for the audit log
func clientOf(ctx context.Context) string {
	if ac := auth.FromContext(ctx); ac != nil && ac.Client != "" {
		return ac.Client
	}
	return GetRemoteAddr(ctx)
}

// recordAudit logs a machine-affecting tool call with whatever caller
// details the request context carries
func recordAudit(ctx context.Context, op audit.Operation, sessionID, address string, err error) {
	event := &audit.Event{
		Operation: op,
		Client:    clientOf(ctx),
		SessionID: sessionID,
		Address:   address,
		Success:   err == nil,
	}
	if id, ok := ctx.Value(logger.ContextKeyRequestID).(string); ok {
		event.RequestID = id
	}
	if err != nil {
		event.Error = err.Error()
	}
	audit.Log(event)
}
