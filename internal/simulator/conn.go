package simulator

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/logger"
)

// machineConn is one host connection. A reader goroutine applies inbound
// frames to the buffer; in AckDrain mode a drawer goroutine drains it.
type machineConn struct {
	srv *Server
	nc  net.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending int
	paused  bool

	kick chan struct{}
	done chan struct{}
}

func (c *machineConn) serve() {
	defer func() { _ = c.nc.Close() }()

	br := bufio.NewReader(c.nc)
	if !c.handshake(br) {
		return
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(c.done)
		return c.readLoop(br)
	})
	if c.srv.cfg.Ack == AckDrain {
		g.Go(c.drainLoop)
	}
	if err := g.Wait(); err != nil {
		logger.Debug("simulator: connection %s ended: %v", c.nc.RemoteAddr(), err)
	}
}

func (c *machineConn) handshake(br *bufio.Reader) bool {
	f, err := firmware.ReadFrame(br)
	if err != nil || f.Type != firmware.FrameHello {
		return false
	}
	cfg := c.srv.cfg
	if cfg.Mute {
		// Hold the socket open until the host gives up.
		_, _ = io.Copy(io.Discard, br)
		return false
	}
	if cfg.Fault != "" {
		_ = c.send(firmware.FrameFault, []byte(cfg.Fault))
		return false
	}
	if err := c.send(firmware.FrameHelloReply, firmware.EncodeHelloReply(cfg.Machine)); err != nil {
		return false
	}
	c.srv.update(func(st *Stats) { st.Handshakes++ })
	return true
}

func (c *machineConn) readLoop(br *bufio.Reader) error {
	for {
		f, err := firmware.ReadFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		switch f.Type {
		case firmware.FrameData:
			c.receive(f.Payload)
		case firmware.FramePause:
			paused, err := firmware.DecodePause(f.Payload)
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.paused = paused
			c.mu.Unlock()
			c.srv.update(func(st *Stats) { st.Pauses = append(st.Pauses, paused) })
			c.poke()
		case firmware.FrameStop:
			c.mu.Lock()
			c.pending = 0
			c.mu.Unlock()
			c.srv.update(func(st *Stats) { st.Stops++ })
		case firmware.FrameMove:
			left, right, err := firmware.DecodeMove(f.Payload)
			if err != nil {
				return err
			}
			if d := c.srv.cfg.MoveDelay; d > 0 {
				time.Sleep(d)
			}
			c.srv.update(func(st *Stats) { st.Moves = append(st.Moves, Move{Left: left, Right: right}) })
			if err := c.send(firmware.FrameMoveDone, nil); err != nil {
				return err
			}
		default:
			return c.send(firmware.FrameFault, []byte("unexpected "+f.Type.String()))
		}
	}
}

func (c *machineConn) receive(window []byte) {
	capacity := c.srv.cfg.Machine.InstructionBufferSize

	c.mu.Lock()
	c.pending += len(window)
	inFlight := c.pending
	c.mu.Unlock()

	c.srv.update(func(st *Stats) {
		st.Windows = append(st.Windows, len(window))
		st.Received = append(st.Received, window...)
		if inFlight > st.MaxInFlight {
			st.MaxInFlight = inFlight
		}
		if inFlight > capacity {
			st.Overflows++
		}
	})
	c.poke()
}

// drainLoop frees buffered bytes chunk by chunk while not paused
func (c *machineConn) drainLoop() error {
	cfg := c.srv.cfg
	for {
		select {
		case <-c.done:
			return nil
		case <-c.kick:
		}

		for {
			c.mu.Lock()
			if c.paused || c.pending == 0 {
				c.mu.Unlock()
				break
			}
			n := c.pending
			if cfg.AckChunk > 0 && n > cfg.AckChunk {
				n = cfg.AckChunk
			}
			c.pending -= n
			c.mu.Unlock()

			if cfg.AckDelay > 0 {
				select {
				case <-c.done:
					return nil
				case <-time.After(cfg.AckDelay):
				}
			}
			if err := c.send(firmware.FrameAck, firmware.EncodeAck(uint32(n))); err != nil {
				return nil
			}
			c.srv.update(func(st *Stats) { st.Acked += n })
		}
	}
}

func (c *machineConn) poke() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *machineConn) send(t firmware.FrameType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return firmware.WriteFrame(c.nc, t, payload)
}
