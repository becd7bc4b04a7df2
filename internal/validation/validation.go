package validation

import (
	"fmt"
	"math"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	// UUIDRegex matches standard UUID format
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// hostLabelRegex matches one DNS label
	hostLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// ValidateUUID checks if the string is a valid UUID
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateRunID validates a streaming run ID
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	return ValidateUUID(id)
}

// ValidateMachineAddress checks an IP[:PORT] or HOST[:PORT] machine address.
// The port is optional; when present it must be in 1..65535.
func ValidateMachineAddress(address string) error {
	if address == "" {
		return fmt.Errorf("machine address cannot be empty")
	}

	host := address
	if h, port, err := net.SplitHostPort(address); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid port in machine address: %s", address)
		}
		host = h
	} else if strings.Count(address, ":") == 1 {
		// host:port that SplitHostPort refused, e.g. an empty port
		return fmt.Errorf("invalid machine address: %s", address)
	}

	if net.ParseIP(host) != nil {
		return nil
	}
	if host == "" || len(host) > 253 {
		return fmt.Errorf("invalid machine host: %q", host)
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if !hostLabelRegex.MatchString(label) {
			return fmt.Errorf("invalid machine host: %s", host)
		}
	}
	return nil
}

// ValidateCoordinate checks a page coordinate in millimetres
func ValidateCoordinate(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	if v < 0 {
		return fmt.Errorf("%s cannot be negative: %g", name, v)
	}
	return nil
}

// ResolveCacheDir resolves dir against the configured cache root and rejects
// anything that lands outside it. Relative paths are taken from root; an
// absolute path must already be inside root.
func ResolveCacheDir(root, dir string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("cache_dir is not configured")
	}
	root = filepath.Clean(root)
	if dir == "" {
		return root, nil
	}
	if strings.ContainsRune(dir, 0) {
		return "", fmt.Errorf("cache_dir contains a NUL byte")
	}

	path := dir
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cache_dir %q is outside %s", dir, root)
	}
	return path, nil
}
