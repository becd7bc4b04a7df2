package mcp

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/instruction"
	"github.com/HyphaGroup/plotd/internal/session"
)

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     string
		wantIs   error
		wantHide string
	}{
		{
			name:   "connection error keeps address",
			err:    &firmware.ConnectionError{Op: "dial", Addr: "10.0.0.7:8888", Err: errors.New("connection refused")},
			want:   "10.0.0.7:8888",
			wantIs: firmware.ErrConnection,
		},
		{
			name:   "busy",
			err:    session.ErrSessionBusy,
			want:   "already being streamed",
			wantIs: session.ErrSessionBusy,
		},
		{
			name:   "no cached drawing",
			err:    fmt.Errorf("%w in /tmp/x", instruction.ErrNoCachedDrawing),
			want:   "render a drawing first",
			wantIs: instruction.ErrNoCachedDrawing,
		},
		{
			name:     "secret hidden",
			err:      errors.New("bad auth_token abc123"),
			want:     "internal configuration error",
			wantHide: "abc123",
		},
		{
			name:     "sqlite hidden",
			err:      errors.New("sqlite: disk I/O error at /var/lib/plotd/history.db"),
			want:     "internal error",
			wantHide: "/var/lib",
		},
		{
			name: "user facing passes through",
			err:  errors.New("limit must be positive"),
			want: "limit must be positive",
		},
		{
			name:     "long unknown error is replaced",
			err:      errors.New(strings.Repeat("x", 80)),
			want:     "an unexpected error occurred",
			wantHide: "xxxx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeError(tt.err, "plot_start")
			if got == nil {
				t.Fatal("SanitizeError() = nil")
			}
			if !strings.Contains(got.Error(), tt.want) {
				t.Errorf("SanitizeError() = %q, want it to contain %q", got, tt.want)
			}
			if tt.wantIs != nil && !errors.Is(got, tt.wantIs) {
				t.Errorf("SanitizeError() = %v, want errors.Is %v", got, tt.wantIs)
			}
			if tt.wantHide != "" && strings.Contains(got.Error(), tt.wantHide) {
				t.Errorf("SanitizeError() = %q leaks %q", got, tt.wantHide)
			}
		})
	}

	if SanitizeError(nil, "x") != nil {
		t.Error("SanitizeError(nil) != nil")
	}
}
