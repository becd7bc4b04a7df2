package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HyphaGroup/plotd/internal/geometry"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("explicit values", func(t *testing.T) {
		path := writeConfig(t, filepath.Join(tmpDir, "explicit"), `{
			// Test config
			"server": {"address": ":9000", "auth_token": "secret"},
			"machine": {"address": "10.0.0.7", "port": 9999, "ack_timeout_seconds": 12},
			"cache_dir": "/var/cache/plotd",
			"history": {"retention_days": 7}
		}`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Address != ":9000" {
			t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":9000")
		}
		if cfg.Server.AuthToken != "secret" {
			t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "secret")
		}
		if got := cfg.Machine.Addr(); got != "10.0.0.7:9999" {
			t.Errorf("Machine.Addr() = %q, want %q", got, "10.0.0.7:9999")
		}
		if cfg.Machine.AckTimeoutSeconds != 12 {
			t.Errorf("Machine.AckTimeoutSeconds = %d, want 12", cfg.Machine.AckTimeoutSeconds)
		}
		if cfg.CacheDir != "/var/cache/plotd" {
			t.Errorf("CacheDir = %q, want %q", cfg.CacheDir, "/var/cache/plotd")
		}
		if got := cfg.History.Retention(); got != 7*24*time.Hour {
			t.Errorf("History.Retention() = %v, want 168h", got)
		}
	})

	t.Run("applies defaults for missing fields", func(t *testing.T) {
		path := writeConfig(t, filepath.Join(tmpDir, "minimal"), `{}`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Machine.Port != 8888 {
			t.Errorf("Machine.Port = %d, want default 8888", cfg.Machine.Port)
		}
		if cfg.Machine.AckTimeoutSeconds != 30 {
			t.Errorf("Machine.AckTimeoutSeconds = %d, want default 30", cfg.Machine.AckTimeoutSeconds)
		}
		if cfg.Physical != geometry.DefaultPhysicalDimensions() {
			t.Errorf("Physical = %+v, want defaults", cfg.Physical)
		}
		if cfg.History.PruneCron != "0 3 * * *" {
			t.Errorf("History.PruneCron = %q, want default", cfg.History.PruneCron)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() on defaults error = %v", err)
		}
	})

	t.Run("JSONC comments are stripped", func(t *testing.T) {
		path := writeConfig(t, filepath.Join(tmpDir, "comments"), `{
			// Line comment
			"server": {"address": "http://x//y"},
			/* Block comment */
			"machine": {"address": "plotter.local"}
		}`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Address != "http://x//y" {
			t.Errorf("Server.Address = %q, comment stripping reached inside a string", cfg.Server.Address)
		}
		if cfg.Machine.Address != "plotter.local" {
			t.Errorf("Machine.Address = %q, want %q", cfg.Machine.Address, "plotter.local")
		}
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		path := writeConfig(t, filepath.Join(tmpDir, "invalid"), "not json")
		if _, err := Load(path); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"negative rps", func(c *Config) { c.Server.RateLimitRPS = -1 }, "rate_limit_rps"},
		{"machine address", func(c *Config) { c.Machine.Address = "192.168.4.1" }, ""},
		{"malformed machine address", func(c *Config) { c.Machine.Address = "plot ter" }, "machine.address"},
		{"port out of range", func(c *Config) { c.Machine.Port = 70000 }, "machine.port"},
		{"negative timeout", func(c *Config) { c.Machine.AckTimeoutSeconds = -5 }, "ack_timeout_seconds"},
		{"page wider than motors", func(c *Config) { c.Physical.PageWidth = 1000 }, "physical"},
		{"bad cron", func(c *Config) { c.History.PruneCron = "every day" }, "prune_cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestMachineSection_Addr(t *testing.T) {
	tests := []struct {
		m    MachineSection
		want string
	}{
		{MachineSection{}, ""},
		{MachineSection{Address: "192.168.1.20"}, "192.168.1.20:8888"},
		{MachineSection{Address: "192.168.1.20", Port: 9000}, "192.168.1.20:9000"},
		{MachineSection{Address: "192.168.1.20:7000", Port: 9000}, "192.168.1.20:7000"},
		{MachineSection{Address: "::1", Port: 8888}, "[::1]:8888"},
	}
	for _, tt := range tests {
		if got := tt.m.Addr(); got != tt.want {
			t.Errorf("%+v.Addr() = %q, want %q", tt.m, got, tt.want)
		}
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Machine.AckTimeoutSeconds = 3
	cfg.Machine.DialTimeoutSeconds = 2

	opts := cfg.SessionOptions()
	if opts.AckTimeout != 3*time.Second {
		t.Errorf("AckTimeout = %v, want 3s", opts.AckTimeout)
	}
	if opts.Firmware.DialTimeout != 2*time.Second {
		t.Errorf("Firmware.DialTimeout = %v, want 2s", opts.Firmware.DialTimeout)
	}
	if opts.EventBufferSize == 0 {
		t.Error("EventBufferSize = 0, want session default")
	}
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("finds config in specified dir", func(t *testing.T) {
		dir := filepath.Join(tmpDir, "custom")
		writeConfig(t, dir, "{}")

		path, err := FindConfigPath(dir)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Base(path) != FileName {
			t.Errorf("FindConfigPath() = %q, want %s", path, FileName)
		}
	})

	t.Run("uses PLOTD_HOME", func(t *testing.T) {
		dir := filepath.Join(tmpDir, "home")
		writeConfig(t, dir, "{}")
		t.Setenv(HomeEnv, dir)

		path, err := FindConfigPath("")
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Dir(path) != dir {
			t.Errorf("FindConfigPath() = %q, want file in %q", path, dir)
		}
	})

	t.Run("error when config not found", func(t *testing.T) {
		if _, err := FindConfigPath(filepath.Join(tmpDir, "nonexistent")); err == nil {
			t.Error("expected error when config not found")
		}
	})
}

func TestLoadAll_ResolvesRelativeDirs(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"cache_dir": "drawings"}`)

	cfg, got, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if got != dir {
		t.Errorf("config dir = %q, want %q", got, dir)
	}
	if want := filepath.Join(dir, "drawings"); cfg.CacheDir != want {
		t.Errorf("CacheDir = %q, want %q", cfg.CacheDir, want)
	}
	if want := filepath.Join(dir, "data"); cfg.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want)
	}
}

func TestWriteDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")

	path, err := WriteDefault(dir)
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(default file) error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default file does not validate: %v", err)
	}
	if cfg.Physical != geometry.DefaultPhysicalDimensions() {
		t.Errorf("default file Physical = %+v, want %+v", cfg.Physical, geometry.DefaultPhysicalDimensions())
	}

	if _, err := WriteDefault(dir); err == nil {
		t.Error("second WriteDefault() succeeded, want refusal to overwrite")
	}
}
