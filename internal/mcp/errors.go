package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HyphaGroup/plotd/internal/geometry"
	"github.com/HyphaGroup/plotd/internal/instruction"
	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/session"
)

// sensitivePatterns contains substrings that indicate sensitive error details
var sensitivePatterns = []string{
	"auth_token",
	"token",
	"password",
	"secret",
	"credential",
}

// internalErrorPatterns contains substrings that indicate internal errors
var internalErrorPatterns = []string{
	"no such file",
	"permission denied",
	"database",
	"sqlite",
}

// SanitizeError returns a client-safe error message.
// Internal details are logged but not exposed to clients.
func SanitizeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// Plotter failures are what the user needs to act on; they carry only
	// the machine address and the firmware's own words.
	switch kind := session.ErrorKind(err); kind {
	case "connection", "protocol", "timeout", "no_session", "busy":
		logger.Error("%s failed (%s): %v", operation, kind, err)
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	if errors.Is(err, instruction.ErrNoCachedDrawing) {
		return fmt.Errorf("%s failed: %w; render a drawing first", operation, instruction.ErrNoCachedDrawing)
	}
	if errors.Is(err, geometry.ErrInvalidDimensions) {
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			logger.Error("%s failed (sensitive): %v", operation, err)
			return fmt.Errorf("%s failed: internal configuration error", operation)
		}
	}

	for _, pattern := range internalErrorPatterns {
		if strings.Contains(lower, pattern) {
			logger.Error("%s failed (internal): %v", operation, err)
			return fmt.Errorf("%s failed: internal error", operation)
		}
	}

	if isUserFacingError(errStr) {
		return err
	}

	logger.Error("%s failed: %v", operation, err)
	return fmt.Errorf("%s failed: %s", operation, genericErrorMessage(errStr))
}

// isUserFacingError returns true if the error message is safe to show to users
func isUserFacingError(errStr string) bool {
	userFacingPatterns := []string{
		"not found",
		"invalid",
		"required",
		"must be",
		"cannot be",
		"is not",
		"exceeded",
		"purged",
	}

	lower := strings.ToLower(errStr)
	for _, pattern := range userFacingPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// genericErrorMessage extracts a safe portion of the error or returns generic text
func genericErrorMessage(errStr string) string {
	if len(errStr) < 50 {
		return errStr
	}
	return "an unexpected error occurred"
}
