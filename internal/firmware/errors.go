package firmware

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Sentinel errors for errors.Is matching against the typed errors below
var (
	ErrConnection = errors.New("firmware: connection error")
	ErrProtocol   = errors.New("firmware: protocol error")
	ErrTimeout    = errors.New("firmware: timeout")
)

// ConnectionError reports a socket open, read or write failure
type ConnectionError struct {
	Op   string // dial, read, write, close
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection error: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConnection) match any ConnectionError
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ProtocolError reports a malformed or inconsistent message from the firmware
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// TimeoutError reports a bounded wait that expired before the firmware answered
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("timeout: %s after %v", e.Op, e.After)
	}
	return "timeout: " + e.Op
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// classify maps a raw socket error onto the firmware error taxonomy.
// Errors that are already classified pass through untouched.
func classify(op, addr string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	var (
		connErr  *ConnectionError
		protoErr *ProtocolError
		toErr    *TimeoutError
	)
	if errors.As(err, &connErr) || errors.As(err, &protoErr) || errors.As(err, &toErr) {
		return err
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &TimeoutError{Op: op, After: timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, After: timeout}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Reason: "truncated frame", Err: err}
	}
	return &ConnectionError{Op: op, Addr: addr, Err: err}
}
