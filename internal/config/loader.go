package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the config directory when --dir is not given
const HomeEnv = "PLOTD_HOME"

// FindConfigPath returns the path to plotd.jsonc using precedence:
// 1. configDir + /plotd.jsonc (if configDir specified)
// 2. $PLOTD_HOME/plotd.jsonc
// 3. ./.plotd/plotd.jsonc (project-local)
// 4. ~/.plotd/plotd.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, FileName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s not found in %s", FileName, configDir)
		}
		return absPath(path), nil
	}

	candidates := CandidateDirs()
	tried := make([]string, 0, len(candidates))
	for _, dir := range candidates {
		path := filepath.Join(dir, FileName)
		tried = append(tried, path)
		if _, err := os.Stat(path); err == nil {
			return absPath(path), nil
		}
	}

	return "", fmt.Errorf("%s not found; tried: %v", FileName, tried)
}

// CandidateDirs lists the config directories searched when --dir is absent
func CandidateDirs() []string {
	var dirs []string
	if home := os.Getenv(HomeEnv); home != "" {
		dirs = append(dirs, home)
	}
	dirs = append(dirs, ".plotd")
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, ".plotd"))
	}
	return dirs
}

// LoadAll finds, loads and validates plotd.jsonc. Relative cache and data
// directories are resolved against the directory holding the file.
func LoadAll(configDir string) (*Config, string, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		return nil, "", err
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid %s: %w", configPath, err)
	}

	dir := filepath.Dir(configPath)
	cfg.CacheDir = resolve(dir, cfg.CacheDir)
	cfg.DataDir = resolve(dir, cfg.DataDir)
	return cfg, dir, nil
}

// WriteDefault writes the commented default config into dir. It refuses to
// overwrite an existing file.
func WriteDefault(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%s already exists", path)
		}
		return "", err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(defaultFile); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return absPath(path), nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

const defaultFile = `{
  // MCP endpoint used by the drawing UI
  "server": {
    "address": "127.0.0.1:8790",
    // Leave empty to accept unauthenticated clients
    "auth_token": "",
    "rate_limit_rps": 20,
    "rate_limit_burst": 40
  },

  // Plotter firmware. "address" may include a port.
  "machine": {
    "address": "",
    "port": 8888,
    "dial_timeout_seconds": 5,
    "handshake_timeout_seconds": 5,
    "ack_timeout_seconds": 30,
    "write_timeout_seconds": 10,
    "move_timeout_seconds": 60
  },

  /* Millimetres. The page sits between the motors, offset from the
     left motor and from the line joining both motors. */
  "physical": {
    "motor_interspace": 754,
    "page_left_offset": 274.74747474747477,
    "page_top_offset": 192,
    "page_width": 210,
    "page_height": 297
  },

  // instructions.bin and start.bin written by the drawing pipeline
  "cache_dir": "cache",
  "data_dir": "data",

  "history": {
    "retention_days": 90,
    "prune_cron": "0 3 * * *"
  },

  // debug also turns on with PLOTD_DEBUG=1
  "logging": {
    "json": false,
    "debug": false
  }
}
`
