package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func capture(t *testing.T, opts Options) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf, opts)
	t.Cleanup(func() { _ = Reset() })
	return &buf
}

func TestSilentBeforeInit(t *testing.T) {
	_ = Reset()
	// Nothing to assert beyond not panicking.
	Info("dropped %d", 1)
	Error("dropped")
	Debug("dropped")
	InfoContext(context.Background(), "dropped")
}

func TestPrintfHelpers(t *testing.T) {
	t.Setenv(DebugEnv, "")
	buf := capture(t, Options{})

	Info("streaming %d bytes", 42)
	Error("handshake failed: %s", "refused")
	Println("shutdown", "complete")
	Debug("window %d", 7)

	out := buf.String()
	for _, want := range []string{"streaming 42 bytes", "ERROR: handshake failed: refused", "shutdown complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "window 7") {
		t.Errorf("Debug line written without debug mode:\n%s", out)
	}
}

func TestDebug(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		debug bool
		want  bool
	}{
		{"off", "", false, false},
		{"option", "", true, true},
		{"env", "1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(DebugEnv, tt.env)
			buf := capture(t, Options{Debug: tt.debug})

			Debug("window %d", 7)
			Slog().Debug("slog debug")

			out := buf.String()
			if got := strings.Contains(out, "DEBUG: window 7"); got != tt.want {
				t.Errorf("printf debug written = %v, want %v", got, tt.want)
			}
			if got := strings.Contains(out, "slog debug"); got != tt.want {
				t.Errorf("slog debug written = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithContext_JSON(t *testing.T) {
	buf := capture(t, Options{JSON: true})

	ctx := context.WithValue(context.Background(), ContextKeyRequestID, "req-1")
	ctx = context.WithValue(ctx, ContextKeySessionID, "run-1")
	ctx = context.WithValue(ctx, ContextKeyAddress, "10.0.0.2:8888")
	InfoContext(ctx, "plot started", "bytes", 1000)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	want := map[string]any{
		"msg":        "plot started",
		"request_id": "req-1",
		"session_id": "run-1",
		"address":    "10.0.0.2:8888",
		"bytes":      float64(1000),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestWithContext_OmitsMissingKeys(t *testing.T) {
	buf := capture(t, Options{JSON: true})

	ErrorContext(context.Background(), "pause frame failed")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"request_id", "session_id", "address"} {
		if _, ok := entry[k]; ok {
			t.Errorf("%s present without a context value", k)
		}
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

func TestInit_WritesDatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := Init(dir, Options{}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = Reset() })

	Info("hello from the daemon")
	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName(time.Now())))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from the daemon") {
		t.Errorf("log file = %q, want the logged line", data)
	}
}
