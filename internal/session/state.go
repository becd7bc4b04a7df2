package session

import (
	"sync"

	"github.com/glycerine/idem"

	"github.com/HyphaGroup/plotd/internal/firmware"
)

/*
SESSION STATE

One State exists per process. It is the only place the connection halves of
an active stream live, and the only way pause and stop reach the loop.

    writeMu ─ writer        serialises every frame written to the firmware
    readMu  ─ reader        held only to install or remove the read half
    mu      ─ paused, cursor, busy, halt, wake, sink

LOCK ORDER: writeMu → readMu → mu. Any path taking more than one lock takes
them in that order; no path takes a lock while holding a later one.

LIFECYCLE:

    claim      busy = true, new stop token         (before dialing)
    install    writer, reader set                  (after the handshake)
    detach     writer = reader = nil,              (every loop exit)
               paused = false, cursor = 0
    release    busy = false, token forgotten

detach is the only teardown path. A State that has been detached and
released is indistinguishable from a fresh one.
*/

// State holds the connection halves and flags shared between the streaming
// loop and the pause/stop commands
type State struct {
	writeMu sync.Mutex
	writer  *firmware.WriteHalf

	readMu sync.Mutex
	reader *firmware.ReadHalf

	mu     sync.Mutex
	paused bool
	cursor int
	busy   bool
	halt   *idem.Halter
	wake   chan struct{}
	sink   Sink
}

// Snapshot is a point-in-time copy of State
type Snapshot struct {
	Connected       bool `json:"connected"`
	ReaderInstalled bool `json:"reader_installed"`
	Paused          bool `json:"paused"`
	Cursor          int  `json:"cursor"`
	Streaming       bool `json:"streaming"`
}

// NewState returns an empty State
func NewState() *State {
	return &State{}
}

// Snapshot reads every field in lock order
func (s *State) Snapshot() Snapshot {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Connected:       s.writer != nil,
		ReaderInstalled: s.reader != nil,
		Paused:          s.paused,
		Cursor:          s.cursor,
		Streaming:       s.busy,
	}
}

// claim reserves the state for one stream and hands back its stop token
// and wake channel
func (s *State) claim(sink Sink) (*idem.Halter, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, nil, ErrSessionBusy
	}
	s.busy = true
	s.halt = idem.NewHalter()
	s.wake = make(chan struct{}, 1)
	s.sink = sink
	return s.halt, s.wake, nil
}

// install hands ownership of both halves to the state
func (s *State) install(r *firmware.ReadHalf, w *firmware.WriteHalf) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer = w
	s.reader = r
	s.paused = false
	s.cursor = 0
}

// readHalf lends the installed read half to the loop's reader goroutine
func (s *State) readHalf() *firmware.ReadHalf {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.reader
}

// detach removes both halves and resets the flags. It returns the write
// half, if any, so the caller can close the socket.
func (s *State) detach() *firmware.WriteHalf {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.writer
	s.writer = nil
	s.reader = nil
	s.paused = false
	s.cursor = 0
	return w
}

// release ends the claim. The stop token is forgotten, so a Stop arriving
// afterwards cannot reach a finished stream.
func (s *State) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.busy = false
	s.halt = nil
	s.wake = nil
	s.sink = nil
}

// writeData sends one window under writeMu. A stop raised while the loop
// was waiting for the lock wins: the window is dropped so that no data
// frame ever follows a stop frame.
func (s *State) writeData(window []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writer == nil {
		return &NoActiveSessionError{Op: "write data"}
	}
	s.mu.Lock()
	stopping := s.halt != nil && s.halt.ReqStop.IsClosed()
	s.mu.Unlock()
	if stopping {
		return errStopRequested
	}
	return s.writer.WriteData(window)
}

func (s *State) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *State) setCursor(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = n
}

// togglePause flips the paused flag, wakes the loop and tells the firmware.
// The flag stays flipped even if the write fails; the loop will see the
// broken socket on its own.
func (s *State) togglePause() (paused bool, sink Sink, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writer == nil {
		return false, nil, &NoActiveSessionError{Op: "pause"}
	}

	s.mu.Lock()
	s.paused = !s.paused
	paused = s.paused
	sink = s.sink
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.mu.Unlock()

	return paused, sink, s.writer.WritePause(paused)
}

// stop raises the stop token if a stream is claimed and writes a stop frame
// if a writer is installed. With nothing running it does nothing.
func (s *State) stop() (wrote bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.halt != nil {
		s.halt.ReqStop.Close()
	}
	s.mu.Unlock()

	if s.writer != nil {
		err = s.writer.WriteStop()
		wrote = true
	}
	return wrote, err
}
