// Package mcp exposes the plotter session to the drawing UI as MCP tools
// over streamable HTTP.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/plotd/internal/auth"
	"github.com/HyphaGroup/plotd/internal/config"
	"github.com/HyphaGroup/plotd/internal/history"
	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/metrics"
	"github.com/HyphaGroup/plotd/internal/session"
)

// generateRequestID creates a unique request identifier
func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// HistoryReader is the part of the history store the tools read from
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]*history.Run, error)
	Ping(ctx context.Context) error
}

// Server wraps the MCP server with the session manager
type Server struct {
	manager   *session.Manager
	history   HistoryReader
	cfg       *config.Config
	version   string
	registry  *Registry
	mcpServer *mcp.Server
	limiter   *auth.RateLimiter

	httpServer *http.Server
	stopSweep  chan struct{}
}

// ServerConfig holds everything the tools need
type ServerConfig struct {
	Config  *config.Config
	Manager *session.Manager
	History HistoryReader // optional
	Version string
}

// NewServer creates a new MCP server instance
func NewServer(sc ServerConfig) *Server {
	cfg := sc.Config
	if cfg == nil {
		cfg = config.Default()
	}
	version := sc.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		manager:   sc.Manager,
		history:   sc.History,
		cfg:       cfg,
		version:   version,
		registry:  NewRegistry(),
		limiter:   auth.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		stopSweep: make(chan struct{}),
	}
	s.registerAllTools(s.registry)

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "plotd",
		Version: version,
	}, nil)
	s.registry.RegisterWithMCPServer(s.mcpServer)
	return s
}

// Handler returns the HTTP handler serving /mcp, /health, /ready and /metrics
func (s *Server) Handler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{
		EventStore: mcp.NewMemoryEventStore(nil),
	})

	loggingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, requestID)
		ctx = WithRemoteAddr(ctx, r.RemoteAddr)
		r = r.WithContext(ctx)

		logger.Debug("HTTP %s %s from %s [request_id=%s]", r.Method, r.URL.Path, r.RemoteAddr, requestID)
		mcpHandler.ServeHTTP(w, r)
	})

	// Rate limiting runs after auth so it can key on the client host
	rateLimited := auth.RateLimitMiddleware(s.limiter)(loggingHandler)
	authed := auth.Middleware(s.cfg.Server.AuthToken)(rateLimited)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealthCheck)
	mux.HandleFunc("/ready", s.handleReadinessCheck)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/mcp", metrics.Middleware(authed))
	mux.Handle("/mcp/", metrics.Middleware(authed))
	return mux
}

// Serve starts the MCP HTTP server and blocks until Shutdown
func (s *Server) Serve(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.sweepLimiter()

	logger.Info("plotd MCP server listening on %s", addr)
	logger.Info("Health check: http://%s/health", addr)
	logger.Info("Metrics: http://%s/metrics", addr)
	if s.cfg.Server.AuthToken == "" {
		logger.Info("No auth_token configured; /mcp accepts any client")
	}

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stopSweep:
	default:
		close(s.stopSweep)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// sweepLimiter forgets clients that have been quiet for a while
func (s *Server) sweepLimiter() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(10 * time.Minute); n > 0 {
				logger.Debug("Rate limiter dropped %d idle clients", n)
			}
		}
	}
}

// handleHealthCheck is a basic liveness check
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadinessCheck verifies the server can serve requests
func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.manager == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready","reason":"session manager unavailable"}`))
		return
	}
	if s.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.history.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","reason":"history database unavailable"}`))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// GetRegistry returns the tool registry
func (s *Server) GetRegistry() *Registry {
	return s.registry
}
