// Package simulator is an in-process stand-in for the plotter firmware. It
// speaks the firmware wire protocol over TCP, keeps a bounded instruction
// buffer, and "draws" by draining that buffer and acknowledging freed bytes.
//
// It backs cmd/plotter-sim and the session and firmware tests.
package simulator

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/logger"
)

// AckPolicy controls when the simulator acknowledges buffered bytes
type AckPolicy int

const (
	// AckDrain drains the buffer on its own, one chunk every AckDelay,
	// and stops draining while paused
	AckDrain AckPolicy = iota
	// AckManual only acknowledges when Ack is called
	AckManual
)

func (p AckPolicy) String() string {
	switch p {
	case AckDrain:
		return "drain"
	case AckManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Config describes the simulated machine
type Config struct {
	Machine   firmware.MachineConfig
	Ack       AckPolicy
	AckDelay  time.Duration // per chunk in AckDrain mode
	AckChunk  int           // bytes per ack in AckDrain mode; 0 = everything pending
	MoveDelay time.Duration

	// Fault, when set, is returned instead of a HelloReply
	Fault string
	// Mute swallows the Hello and never answers
	Mute bool
}

// DefaultConfig is a small, fast machine suited to tests
func DefaultConfig() Config {
	return Config{
		Machine: firmware.MachineConfig{
			InstructionBufferSize: 64,
			MaxMotorSpeed:         2000,
			MinPulseWidth:         10,
			ProtocolVersion:       firmware.ProtocolVersion,
		},
		Ack:      AckDrain,
		AckChunk: 16,
	}
}

// Move is one Move frame received by the simulator
type Move struct {
	Left  float64
	Right float64
}

// Stats is a copy of everything the simulator has observed
type Stats struct {
	Connections int
	Handshakes  int
	Windows     []int
	Received    []byte
	Acked       int
	Pauses      []bool
	Stops       int
	Moves       []Move

	// MaxInFlight is the largest number of unacknowledged bytes seen
	MaxInFlight int
	// Overflows counts data frames that did not fit in the buffer
	Overflows int
}

// Server accepts firmware connections on a TCP listener
type Server struct {
	cfg Config
	ln  net.Listener

	mu      sync.Mutex
	stats   Stats
	conns   map[*machineConn]struct{}
	latest  *machineConn
	changed chan struct{}
	closed  bool

	wg sync.WaitGroup
}

// Listen starts a simulator on address ("127.0.0.1:0" picks a free port)
func Listen(address string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s := &Server{
		cfg:     cfg,
		ln:      ln,
		conns:   make(map[*machineConn]struct{}),
		changed: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting, drops every connection and waits for all handlers
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*machineConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.ln.Close()
	for _, c := range conns {
		_ = c.nc.Close()
	}
	s.wg.Wait()
	return err
}

// Stats returns a snapshot of what the simulator has seen so far
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Windows = append([]int(nil), s.stats.Windows...)
	st.Received = append([]byte(nil), s.stats.Received...)
	st.Pauses = append([]bool(nil), s.stats.Pauses...)
	st.Moves = append([]Move(nil), s.stats.Moves...)
	return st
}

// WaitFor blocks until cond holds for the current stats or timeout elapses
func (s *Server) WaitFor(timeout time.Duration, cond func(Stats) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		ch := s.changed
		s.mu.Unlock()

		if cond(s.Stats()) {
			return true
		}
		select {
		case <-ch:
		case <-deadline.C:
			return cond(s.Stats())
		}
	}
}

// Ack sends an acknowledgement for n bytes on the most recent connection.
// It does not check n against what was received, so tests can provoke
// protocol errors.
func (s *Server) Ack(n uint32) error {
	c := s.current()
	if c == nil {
		return errors.New("no firmware connection")
	}
	c.mu.Lock()
	c.pending -= int(n)
	if c.pending < 0 {
		c.pending = 0
	}
	c.mu.Unlock()
	if err := c.send(firmware.FrameAck, firmware.EncodeAck(n)); err != nil {
		return err
	}
	s.update(func(st *Stats) { st.Acked += int(n) })
	return nil
}

// SendFault sends a Fault frame on the most recent connection
func (s *Server) SendFault(reason string) error {
	c := s.current()
	if c == nil {
		return errors.New("no firmware connection")
	}
	return c.send(firmware.FrameFault, []byte(reason))
}

// DropConnections closes every open connection without a goodbye
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.nc.Close()
	}
}

func (s *Server) current() *machineConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// update applies fn to the stats and wakes WaitFor callers
func (s *Server) update(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("simulator: accept error: %v", err)
			continue
		}

		c := &machineConn{srv: s, nc: nc, kick: make(chan struct{}, 1), done: make(chan struct{})}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.latest = c
		s.mu.Unlock()
		s.update(func(st *Stats) { st.Connections++ })

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
			s.mu.Lock()
			delete(s.conns, c)
			if s.latest == c {
				s.latest = nil
			}
			s.mu.Unlock()
		}()
	}
}
