package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/geometry"
	"github.com/HyphaGroup/plotd/internal/history"
	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/session"
	"github.com/HyphaGroup/plotd/internal/validation"
)

// FileName is the config file looked up in the config directory
const FileName = "plotd.jsonc"

// Config is the plotd.jsonc file format
type Config struct {
	Server   ServerSection               `json:"server"`
	Machine  MachineSection              `json:"machine"`
	Physical geometry.PhysicalDimensions `json:"physical"`
	CacheDir string                      `json:"cache_dir"`
	DataDir  string                      `json:"data_dir"`
	History  HistorySection              `json:"history"`
	Logging  LoggingSection              `json:"logging"`
}

// ServerSection configures the MCP HTTP endpoint
type ServerSection struct {
	Address string `json:"address"`
	// AuthToken, when set, is required as a bearer token on /mcp
	AuthToken      string  `json:"auth_token"`
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`
}

// MachineSection locates the plotter and bounds every wait on it
type MachineSection struct {
	Address                 string `json:"address"`
	Port                    int    `json:"port"`
	DialTimeoutSeconds      int    `json:"dial_timeout_seconds"`
	HandshakeTimeoutSeconds int    `json:"handshake_timeout_seconds"`
	AckTimeoutSeconds       int    `json:"ack_timeout_seconds"`
	WriteTimeoutSeconds     int    `json:"write_timeout_seconds"`
	MoveTimeoutSeconds      int    `json:"move_timeout_seconds"`
}

// HistorySection controls run history retention
type HistorySection struct {
	RetentionDays int    `json:"retention_days"`
	PruneCron     string `json:"prune_cron"`
}

// LoggingSection selects the log format and verbosity
type LoggingSection struct {
	JSON  bool `json:"json"`
	Debug bool `json:"debug"`
}

// Options converts the section for logger.Init
func (l LoggingSection) Options() logger.Options {
	return logger.Options{JSON: l.JSON, Debug: l.Debug}
}

// Load reads a plotd.jsonc file and fills in defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(StripJSONComments(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every field at its default
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:8790"
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = 20
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 40
	}

	m := &cfg.Machine
	if m.Port == 0 {
		m.Port = firmware.DefaultPort
	}
	if m.DialTimeoutSeconds == 0 {
		m.DialTimeoutSeconds = 5
	}
	if m.HandshakeTimeoutSeconds == 0 {
		m.HandshakeTimeoutSeconds = 5
	}
	if m.AckTimeoutSeconds == 0 {
		m.AckTimeoutSeconds = 30
	}
	if m.WriteTimeoutSeconds == 0 {
		m.WriteTimeoutSeconds = 10
	}
	if m.MoveTimeoutSeconds == 0 {
		m.MoveTimeoutSeconds = 60
	}

	// Physical dimensions are all-or-nothing; a half-filled block is
	// rejected by Validate rather than patched.
	if cfg.Physical == (geometry.PhysicalDimensions{}) {
		cfg.Physical = geometry.DefaultPhysicalDimensions()
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = "cache"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 90
	}
	if cfg.History.PruneCron == "" {
		cfg.History.PruneCron = "0 3 * * *"
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	var errs []error

	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	if c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("server.rate_limit_burst must not be negative"))
	}
	if c.Machine.Address != "" {
		if err := validation.ValidateMachineAddress(c.Machine.Address); err != nil {
			errs = append(errs, fmt.Errorf("machine.address: %w", err))
		}
	}
	if c.Machine.Port < 1 || c.Machine.Port > 65535 {
		errs = append(errs, fmt.Errorf("machine.port %d out of range", c.Machine.Port))
	}
	for name, v := range map[string]int{
		"dial_timeout_seconds":      c.Machine.DialTimeoutSeconds,
		"handshake_timeout_seconds": c.Machine.HandshakeTimeoutSeconds,
		"ack_timeout_seconds":       c.Machine.AckTimeoutSeconds,
		"write_timeout_seconds":     c.Machine.WriteTimeoutSeconds,
		"move_timeout_seconds":      c.Machine.MoveTimeoutSeconds,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("machine.%s must not be negative", name))
		}
	}
	if err := c.Physical.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("physical: %w", err))
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, errors.New("history.retention_days must not be negative"))
	}
	if _, err := history.ParseCron(c.History.PruneCron); err != nil {
		errs = append(errs, fmt.Errorf("history.prune_cron: %w", err))
	}

	return errors.Join(errs...)
}

// Addr joins the machine host and port into "IP:PORT". An address that
// already carries a port is returned as is; an empty one yields "".
func (m MachineSection) Addr() string {
	if m.Address == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(m.Address); err == nil {
		return m.Address
	}
	port := m.Port
	if port == 0 {
		port = firmware.DefaultPort
	}
	return net.JoinHostPort(m.Address, strconv.Itoa(port))
}

// FirmwareOptions converts the machine timeouts for firmware.Dial
func (m MachineSection) FirmwareOptions() firmware.Options {
	return firmware.Options{
		DialTimeout:      seconds(m.DialTimeoutSeconds),
		HandshakeTimeout: seconds(m.HandshakeTimeoutSeconds),
		WriteTimeout:     seconds(m.WriteTimeoutSeconds),
		MoveTimeout:      seconds(m.MoveTimeoutSeconds),
	}
}

// SessionOptions builds the session manager options. The caller sets
// History once the store is open.
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.Firmware = c.Machine.FirmwareOptions()
	opts.AckTimeout = seconds(c.Machine.AckTimeoutSeconds)
	return opts
}

// Retention is how long finished runs are kept; 0 keeps them forever
func (h HistorySection) Retention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
