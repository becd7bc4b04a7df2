package firmware

import (
	"context"
	"net"
	"time"

	"github.com/HyphaGroup/plotd/internal/logger"
)

// MachineConfig is what the firmware declares during the handshake. It is
// fixed for the lifetime of one connection.
type MachineConfig struct {
	InstructionBufferSize int    `json:"instruction_buffer_size"`
	MaxMotorSpeed         uint32 `json:"max_motor_speed"`
	MinPulseWidth         uint32 `json:"min_pulse_width"`
	ProtocolVersion       uint8  `json:"protocol_version"`
}

// Validate rejects configs the streaming loop cannot work with
func (m MachineConfig) Validate() error {
	if !SupportedVersion(m.ProtocolVersion) {
		return protocolErrorf("unsupported protocol version %d (host speaks %d)", m.ProtocolVersion, ProtocolVersion)
	}
	if m.InstructionBufferSize <= 0 {
		return protocolErrorf("firmware declared an instruction buffer of %d bytes", m.InstructionBufferSize)
	}
	return nil
}

// Dial opens a connection to the firmware at address and performs the
// handshake. On success the caller owns the returned Conn.
func Dial(ctx context.Context, address string, opts Options) (*Conn, MachineConfig, error) {
	address = NormalizeAddress(address)

	d := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		logger.Error("Firmware dial %s failed: %v", address, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, MachineConfig{}, &ConnectionError{Op: "dial", Addr: address, Err: ctxErr}
		}
		return nil, MachineConfig{}, classify("dial", address, opts.DialTimeout, err)
	}

	c := newConn(address, nc, opts)
	cfg, err := c.handshake(ctx)
	if err != nil {
		_ = c.Close()
		logger.Error("Firmware handshake with %s failed: %v", address, err)
		return nil, MachineConfig{}, err
	}

	logger.Info("Firmware %s connected (buffer: %d, max speed: %d, min pulse: %d, protocol: v%d)",
		address, cfg.InstructionBufferSize, cfg.MaxMotorSpeed, cfg.MinPulseWidth, cfg.ProtocolVersion)
	return c, cfg, nil
}

// handshake sends Hello and waits for a single HelloReply
func (c *Conn) handshake(ctx context.Context) (MachineConfig, error) {
	if c.opts.HandshakeTimeout > 0 {
		_ = c.nc.SetDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	}
	stop := c.watchContext(ctx)
	defer func() {
		stop()
		_ = c.nc.SetDeadline(time.Time{})
	}()

	if err := WriteFrame(c.nc, FrameHello, []byte{ProtocolVersion}); err != nil {
		return MachineConfig{}, c.handshakeErr(ctx, err)
	}

	f, err := ReadFrame(c.br)
	if err != nil {
		return MachineConfig{}, c.handshakeErr(ctx, err)
	}

	switch f.Type {
	case FrameHelloReply:
	case FrameFault:
		return MachineConfig{}, protocolErrorf("firmware refused handshake: %s", string(f.Payload))
	default:
		return MachineConfig{}, protocolErrorf("expected hello_reply, got %s", f.Type)
	}

	cfg, err := DecodeHelloReply(f.Payload)
	if err != nil {
		return MachineConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return MachineConfig{}, err
	}
	return cfg, nil
}

func (c *Conn) handshakeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ConnectionError{Op: "handshake", Addr: c.addr, Err: ctxErr}
	}
	return classify("handshake", c.addr, c.opts.HandshakeTimeout, err)
}
