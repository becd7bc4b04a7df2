package firmware

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultPort is used when an address carries no port
const DefaultPort = 8888

// Options bounds every blocking step of a firmware connection
type Options struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // per frame; 0 disables
	MoveTimeout      time.Duration // wait for MoveDone
}

// DefaultOptions returns the timeouts used when the config leaves them unset
func DefaultOptions() Options {
	return Options{
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
		MoveTimeout:      60 * time.Second,
	}
}

// NormalizeAddress appends DefaultPort when address has no port
func NormalizeAddress(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}

// Conn is a duplex byte stream to the firmware. After the handshake it is
// split into a ReadHalf and a WriteHalf so that control frames can be written
// while a read loop is blocked on the other side.
type Conn struct {
	addr string
	nc   net.Conn
	br   *bufio.Reader
	opts Options

	closeOnce sync.Once
	closeErr  error
}

func newConn(addr string, nc net.Conn, opts Options) *Conn {
	return &Conn{
		addr: addr,
		nc:   nc,
		br:   bufio.NewReader(nc),
		opts: opts,
	}
}

// Addr returns the address the connection was dialed with
func (c *Conn) Addr() string {
	return c.addr
}

// Close closes the socket. It is safe to call more than once and from
// either half.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// Split hands out the two independently usable endpoints of the connection
func (c *Conn) Split() (*ReadHalf, *WriteHalf) {
	return &ReadHalf{c: c}, &WriteHalf{c: c}
}

func (c *Conn) writeFrame(t FrameType, payload []byte) error {
	if c.opts.WriteTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	err := WriteFrame(c.nc, t, payload)
	return classify("write "+t.String(), c.addr, c.opts.WriteTimeout, err)
}

func (c *Conn) readFrame(op string, timeout time.Duration) (Frame, error) {
	f, err := ReadFrame(c.br)
	if err != nil {
		return Frame{}, classify(op, c.addr, timeout, err)
	}
	return f, nil
}

// watchContext forces pending I/O to fail once ctx is done. The returned
// func stops the watch.
func (c *Conn) watchContext(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
}

// ReadHalf is the read endpoint of a split connection
type ReadHalf struct {
	c *Conn
}

// ReadFrame blocks until the next frame arrives or the socket fails
func (h *ReadHalf) ReadFrame() (Frame, error) {
	return h.c.readFrame("read", 0)
}

// Close closes the whole connection
func (h *ReadHalf) Close() error {
	return h.c.Close()
}

// WriteHalf is the write endpoint of a split connection. It does no locking
// of its own; callers serialise writes.
type WriteHalf struct {
	c *Conn
}

// WriteData sends one window of instruction bytes
func (h *WriteHalf) WriteData(window []byte) error {
	return h.c.writeFrame(FrameData, window)
}

// WritePause tells the firmware the new pause state
func (h *WriteHalf) WritePause(paused bool) error {
	return h.c.writeFrame(FramePause, EncodePause(paused))
}

// WriteStop tells the firmware to abandon the drawing
func (h *WriteHalf) WriteStop() error {
	return h.c.writeFrame(FrameStop, nil)
}

// Addr returns the remote address
func (h *WriteHalf) Addr() string {
	return h.c.addr
}

// Close closes the whole connection
func (h *WriteHalf) Close() error {
	return h.c.Close()
}
