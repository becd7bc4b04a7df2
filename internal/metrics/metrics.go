package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotd_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plotd_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionActive is 1 while a drawing is being streamed
	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plotd_session_active",
			Help: "Whether a drawing is currently being streamed",
		},
	)

	// SessionsTotal counts finished streaming sessions by outcome
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotd_sessions_total",
			Help: "Total number of streaming sessions by outcome",
		},
		[]string{"outcome"},
	)

	// SessionDuration tracks how long drawings take to stream
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plotd_session_duration_seconds",
			Help:    "Streaming session duration in seconds",
			Buckets: []float64{1, 10, 60, 300, 600, 1800, 3600, 7200, 14400},
		},
		[]string{"outcome"},
	)

	// BytesSent counts instruction bytes written to the firmware
	BytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plotd_bytes_sent_total",
			Help: "Instruction bytes written to the firmware",
		},
	)

	// BytesAcked counts instruction bytes the firmware acknowledged
	BytesAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plotd_bytes_acked_total",
			Help: "Instruction bytes acknowledged by the firmware",
		},
	)

	// WindowSize tracks the size of each data window
	WindowSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plotd_window_bytes",
			Help:    "Size of data windows sent to the firmware",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		},
	)

	// ControlFrames counts pause, resume, stop and move frames
	ControlFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotd_control_frames_total",
			Help: "Control frames sent to the firmware",
		},
		[]string{"kind"},
	)

	// HandshakeFailures counts failed connection attempts by error kind
	HandshakeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotd_handshake_failures_total",
			Help: "Failed firmware handshakes",
		},
		[]string{"kind"},
	)

	// EventBufferDrops tracks dropped events due to buffer overflow
	EventBufferDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plotd_event_buffer_drops_total",
			Help: "Total number of events dropped due to buffer overflow",
		},
	)

	// ToolCalls tracks MCP tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotd_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality
func normalizePath(path string) string {
	switch path {
	case "/health", "/ready", "/mcp", "/mcp/", "/metrics":
		return path
	default:
		if len(path) > 5 && path[:5] == "/mcp/" {
			return "/mcp"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStart marks a stream as running
func RecordSessionStart() {
	SessionActive.Set(1)
}

// RecordSessionEnd clears the running flag and records the outcome
func RecordSessionEnd(outcome string, duration time.Duration) {
	SessionActive.Set(0)
	SessionsTotal.WithLabelValues(outcome).Inc()
	SessionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordWindow records one data window written to the firmware
func RecordWindow(n int) {
	BytesSent.Add(float64(n))
	WindowSize.Observe(float64(n))
}

// RecordAck records bytes freed by a firmware acknowledgement
func RecordAck(n int) {
	BytesAcked.Add(float64(n))
}

// RecordControlFrame records a pause, resume, stop or move frame
func RecordControlFrame(kind string) {
	ControlFrames.WithLabelValues(kind).Inc()
}

// RecordHandshakeFailure records a failed dial or handshake
func RecordHandshakeFailure(kind string) {
	HandshakeFailures.WithLabelValues(kind).Inc()
}

// RecordToolCall records an MCP tool invocation
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// RecordEventDrop records an event buffer drop
func RecordEventDrop() {
	EventBufferDrops.Inc()
}
