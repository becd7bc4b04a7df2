package session

import (
	"errors"
	"fmt"

	"github.com/HyphaGroup/plotd/internal/firmware"
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionBusy     = errors.New("a drawing is already being streamed")

	errStopRequested = errors.New("stop requested")
)

// NoActiveSessionError reports a command that needs a connection when none
// is installed
type NoActiveSessionError struct {
	Op string
}

func (e *NoActiveSessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, ErrNoActiveSession)
}

func (e *NoActiveSessionError) Is(target error) bool { return target == ErrNoActiveSession }

// ErrorKind names the class of a session error for events, metrics and
// history: "connection", "protocol", "timeout", "no_session", "busy" or
// "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, firmware.ErrTimeout):
		return "timeout"
	case errors.Is(err, firmware.ErrProtocol):
		return "protocol"
	case errors.Is(err, firmware.ErrConnection):
		return "connection"
	case errors.Is(err, ErrNoActiveSession):
		return "no_session"
	case errors.Is(err, ErrSessionBusy):
		return "busy"
	default:
		return "internal"
	}
}
