package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/HyphaGroup/plotd/internal/logger"
)

// Middleware checks the static bearer token from the server config.
// An empty token disables the check; every request is still tagged with
// its client address.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := &AuthContext{Client: clientHost(r)}

			if token != "" {
				header := r.Header.Get("Authorization")
				if !strings.HasPrefix(header, "Bearer ") {
					jsonError(w, "Authentication required (Bearer token)", http.StatusUnauthorized)
					return
				}
				presented := strings.TrimPrefix(header, "Bearer ")
				if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
					logger.Info("Rejected token %s from %s", maskToken(presented), authCtx.Client)
					jsonError(w, "Invalid token", http.StatusUnauthorized)
					return
				}
				authCtx.Authenticated = true
			}

			ctx := WithContext(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    -32001,
			"message": message,
		},
		"id": nil,
	})
}

func maskToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:4] + "..." + tokenID[len(tokenID)-4:]
}
