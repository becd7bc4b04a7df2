package testutil

import (
	"testing"
	"time"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/simulator"
)

// WaitTimeout bounds every wait on the simulated firmware in tests
const WaitTimeout = 5 * time.Second

// FirmwareOption is a function that modifies the simulated machine.
type FirmwareOption func(*simulator.Config)

// NewFirmware starts a simulated firmware on a loopback port and stops it
// when the test ends.
func NewFirmware(t *testing.T, opts ...FirmwareOption) *simulator.Server {
	t.Helper()

	cfg := simulator.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := simulator.Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("failed to start simulated firmware: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// WithBufferSize sets the instruction buffer size declared in the handshake.
func WithBufferSize(n int) FirmwareOption {
	return func(c *simulator.Config) {
		c.Machine.InstructionBufferSize = n
	}
}

// WithProtocolVersion sets the protocol version declared in the handshake.
func WithProtocolVersion(v uint8) FirmwareOption {
	return func(c *simulator.Config) {
		c.Machine.ProtocolVersion = v
	}
}

// WithManualAck makes the firmware acknowledge only when the test calls Ack.
func WithManualAck() FirmwareOption {
	return func(c *simulator.Config) {
		c.Ack = simulator.AckManual
	}
}

// WithDrain sets how fast the firmware drains its buffer.
func WithDrain(chunk int, delay time.Duration) FirmwareOption {
	return func(c *simulator.Config) {
		c.Ack = simulator.AckDrain
		c.AckChunk = chunk
		c.AckDelay = delay
	}
}

// WithFault makes the firmware refuse the handshake.
func WithFault(reason string) FirmwareOption {
	return func(c *simulator.Config) {
		c.Fault = reason
	}
}

// WithMute makes the firmware accept the connection and never answer.
func WithMute() FirmwareOption {
	return func(c *simulator.Config) {
		c.Mute = true
	}
}

// WaitFor fails the test if cond does not hold within WaitTimeout.
func WaitFor(t *testing.T, srv *simulator.Server, what string, cond func(simulator.Stats) bool) simulator.Stats {
	t.Helper()
	if !srv.WaitFor(WaitTimeout, cond) {
		t.Fatalf("timed out waiting for firmware: %s (stats: %+v)", what, srv.Stats())
	}
	return srv.Stats()
}

// FastOptions returns connection options with short timeouts for tests.
func FastOptions() firmware.Options {
	return firmware.Options{
		DialTimeout:      2 * time.Second,
		HandshakeTimeout: 500 * time.Millisecond,
		WriteTimeout:     2 * time.Second,
		MoveTimeout:      2 * time.Second,
	}
}
