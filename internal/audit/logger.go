// Package audit records every command that moves the machine: starting,
// pausing and stopping a stream, and moving the pen. Entries are JSON lines
// tagged audit=true so they can be grepped out of the service log.
package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpPlotStart Operation = "plot.start"
	OpPlotPause Operation = "plot.pause"
	OpPlotStop  Operation = "plot.stop"
	OpPlotMove  Operation = "plot.move"
)

// FileName is the audit log inside the log directory
const FileName = "audit.log"

// Event represents an audit log entry
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation Operation      `json:"operation"`
	Client    string         `json:"client,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Address   string         `json:"address,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(os.Stdout, true)
	auditFile     *os.File
)

// Default returns the default audit logger
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the default audit logger
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Init sends the default audit logger to logDir/audit.log
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	auditFile = f
	SetDefault(New(f, true))
	return nil
}

// Close closes the audit log file opened by Init
func Close() error {
	if auditFile != nil {
		return auditFile.Close()
	}
	return nil
}

// New creates a new audit logger writing JSON lines to w
func New(w io.Writer, enabled bool) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	if event.Client != "" {
		attrs = append(attrs, slog.String("client", event.Client))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.Address != "" {
		attrs = append(attrs, slog.String("address", event.Address))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// Record logs op as a success when err is nil and a failure otherwise
func (l *Logger) Record(op Operation, client, sessionID, address string, err error) {
	event := &Event{
		Operation: op,
		Client:    client,
		SessionID: sessionID,
		Address:   address,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// Convenience functions using default logger

func Log(event *Event) {
	Default().Log(event)
}

func Record(op Operation, client, sessionID, address string, err error) {
	Default().Record(op, client, sessionID, address, err)
}
