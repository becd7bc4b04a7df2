// Package logger is plotd's process-wide logger. It has two faces over one
// dated log file: printf-style helpers (Info, Error, Printf, Debug) for the
// daemon's narrative lines, and slog (Slog, WithContext, InfoContext) for
// structured entries that carry request, run and machine fields.
//
// Before Init (or SetOutput) every helper is a no-op, so library code and
// tests can log unconditionally.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugEnv turns on debug output when set to "1"
const DebugEnv = "PLOTD_DEBUG"

// Options controls the output format
type Options struct {
	// JSON selects the slog JSON handler instead of text
	JSON bool
	// Debug enables Debug lines and slog debug level
	Debug bool
}

var (
	mu      sync.Mutex
	info    *log.Logger
	errs    *log.Logger
	slogger *slog.Logger
	logFile *os.File
	debug   bool
)

// FileName returns the log file name for day t
func FileName(t time.Time) string {
	return "plotd-" + t.Format("2006-01-02") + ".log"
}

// Init sends logs to the console and to logDir/plotd-YYYY-MM-DD.log
func Init(logDir string, opts Options) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, FileName(time.Now())), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	configure(io.MultiWriter(os.Stdout, f), io.MultiWriter(os.Stderr, f), opts)
	return nil
}

// SetOutput sends every log line to w. Tests use it to capture output.
func SetOutput(w io.Writer, opts Options) {
	mu.Lock()
	defer mu.Unlock()
	configure(w, w, opts)
}

// Reset returns the package to its silent state and closes the log file
func Reset() error {
	mu.Lock()
	defer mu.Unlock()
	info, errs, slogger, debug = nil, nil, nil, false
	return closeFile()
}

// Close closes the log file; later lines still reach the console
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeFile()
}

func closeFile() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// configure installs both faces over out and errOut. Caller holds mu.
func configure(out, errOut io.Writer, opts Options) {
	debug = opts.Debug || os.Getenv(DebugEnv) == "1"
	info = log.New(out, "", log.LstdFlags)
	errs = log.New(errOut, "ERROR: ", log.LstdFlags)

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}
	slogger = slog.New(handler)
}

func printf(l **log.Logger, format string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	if *l != nil {
		(*l).Printf(format, v...)
	}
}

// Info logs an informational message
func Info(format string, v ...any) {
	printf(&info, format, v...)
}

// Printf logs a formatted message
func Printf(format string, v ...any) {
	printf(&info, format, v...)
}

// Println logs a simple message
func Println(v ...any) {
	mu.Lock()
	defer mu.Unlock()
	if info != nil {
		info.Println(v...)
	}
}

// Error logs an error message
func Error(format string, v ...any) {
	printf(&errs, format, v...)
}

// Debug logs only in debug mode; the streaming loop uses it per window
func Debug(format string, v ...any) {
	mu.Lock()
	enabled := debug
	mu.Unlock()
	if enabled {
		printf(&info, "DEBUG: "+format, v...)
	}
}

// Fatalf logs a formatted fatal error and exits
func Fatalf(format string, v ...any) {
	mu.Lock()
	l := errs
	mu.Unlock()
	if l == nil {
		log.Fatalf(format, v...)
	}
	l.Fatalf(format, v...)
}

// Slog returns the structured logger, or a discarding one before Init
func Slog() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if slogger == nil {
		return discard
	}
	return slogger
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Context keys for structured logging
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeySessionID contextKey = "session_id"
	ContextKeyAddress   contextKey = "address"
)

// WithContext returns a logger carrying the request, run and machine
// fields found in ctx
func WithContext(ctx context.Context) *slog.Logger {
	l := Slog()
	for _, key := range []contextKey{ContextKeyRequestID, ContextKeySessionID, ContextKeyAddress} {
		if v := ctx.Value(key); v != nil {
			l = l.With(string(key), v)
		}
	}
	return l
}

// InfoContext logs an info message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// ErrorContext logs an error with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}
