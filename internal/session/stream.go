package session

import (
	"context"
	"errors"
	"time"

	"github.com/glycerine/idem"
	"golang.org/x/sync/errgroup"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/instruction"
	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/metrics"
)

/*
STREAMING LOOP

The loop keeps two counters over the instruction bytes:

    0           acked          sent                     total
    ├───────────┼──────────────┼────────────────────────┤
      consumed     in firmware     not yet written
                   buffer

The firmware buffer holds capacity bytes, so a window is always

    bytes[sent : min(acked + capacity, total)]

and nothing is written while that range is empty. Each Ack frame frees n
bytes: acked += n. An ack that would move acked past sent is a protocol
violation.

A reader goroutine turns inbound frames into channel messages so the loop
can select over:

    ack       advance acked, emit progress
    readErr   socket closed or malformed frame
    stop      token raised by Stop
    wake      pause flag flipped
    ctx       caller gave up
    timer     no ack within ackTimeout while bytes are in flight

The ack timer is disarmed while paused; a paused machine may legitimately
sit on a full buffer.
*/

// outcome is how a loop ended
type outcome string

const (
	outcomeComplete outcome = "complete"
	outcomeStopped  outcome = "stopped"
	outcomeError    outcome = "error"
)

type streamer struct {
	state      *State
	bytes      []byte
	capacity   int
	ackTimeout time.Duration
	halt       *idem.Halter
	wake       <-chan struct{}
	sink       Sink
	onProgress func(sent, written int)

	sent  int
	acked int
}

// result is what the loop reports to its caller after teardown
type result struct {
	outcome outcome
	sent    int // acknowledged
	written int
	err     error
}

// stream runs the loop over an installed connection. It always tears the
// state down before returning; the caller emits the terminal event.
func (st *streamer) stream(ctx context.Context, conn *firmware.Conn) result {
	acks := make(chan uint32)
	readErr := make(chan error, 1)
	quit := make(chan struct{})

	var g errgroup.Group
	reader := st.state.readHalf()
	g.Go(func() error {
		return readLoop(reader, acks, readErr, quit)
	})

	res := st.loop(ctx, acks, readErr)

	close(quit)
	if w := st.state.detach(); w != nil {
		_ = w.Close()
	}
	_ = conn.Close()
	if err := g.Wait(); err != nil {
		logger.Debug("Reader for %s exited: %v", conn.Addr(), err)
	}
	return res
}

func (st *streamer) loop(ctx context.Context, acks <-chan uint32, readErr <-chan error) result {
	total := len(st.bytes)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if st.acked == total {
			return st.result(outcomeComplete, nil)
		}
		if st.halt.ReqStop.IsClosed() {
			return st.result(outcomeStopped, nil)
		}
		if err := ctx.Err(); err != nil {
			return st.result(outcomeError, &firmware.ConnectionError{Op: "stream", Err: err})
		}

		paused := st.state.isPaused()
		if !paused {
			end := min(st.acked+st.capacity, total)
			if st.sent < end {
				window := st.bytes[st.sent:end]
				if err := st.state.writeData(window); err != nil {
					if errors.Is(err, errStopRequested) {
						return st.result(outcomeStopped, nil)
					}
					return st.result(outcomeError, err)
				}
				st.sent = end
				metrics.RecordWindow(len(window))
				logger.Debug("Sent window of %d bytes (%d/%d)", len(window), st.sent, total)
			}
		}

		var timeout <-chan time.Time
		if !paused && st.sent > st.acked && st.ackTimeout > 0 {
			timer.Reset(st.ackTimeout)
			timeout = timer.C
		}

		select {
		case n := <-acks:
			timer.Stop()
			if st.acked+int(n) > st.sent {
				return st.result(outcomeError, &firmware.ProtocolError{
					Reason: "firmware acknowledged more bytes than were sent",
				})
			}
			st.acked += int(n)
			st.state.setCursor(st.acked)
			metrics.RecordAck(int(n))
			st.sink.Emit(Event{Kind: EventProgress, Sent: st.acked, Written: st.sent, Total: total})
			if st.onProgress != nil {
				st.onProgress(st.acked, st.sent)
			}
		case err := <-readErr:
			return st.result(outcomeError, err)
		case <-st.halt.ReqStop.Chan:
			return st.result(outcomeStopped, nil)
		case <-st.wake:
			timer.Stop()
		case <-ctx.Done():
			return st.result(outcomeError, &firmware.ConnectionError{Op: "stream", Err: ctx.Err()})
		case <-timeout:
			return st.result(outcomeError, &firmware.TimeoutError{Op: "wait ack", After: st.ackTimeout})
		}
	}
}

func (st *streamer) result(o outcome, err error) result {
	return result{outcome: o, sent: st.acked, written: st.sent, err: err}
}

// readLoop forwards ack counts until the socket fails or quit closes
func readLoop(r *firmware.ReadHalf, acks chan<- uint32, readErr chan<- error, quit <-chan struct{}) error {
	fail := func(err error) error {
		select {
		case readErr <- err:
		case <-quit:
		}
		return err
	}

	for {
		f, err := r.ReadFrame()
		if err != nil {
			select {
			case <-quit:
				// Expected: teardown closed the socket under us.
				return nil
			default:
			}
			return fail(err)
		}

		switch f.Type {
		case firmware.FrameAck:
			n, err := firmware.DecodeAck(f.Payload)
			if err != nil {
				return fail(err)
			}
			select {
			case acks <- n:
			case <-quit:
				return nil
			}
		case firmware.FrameFault:
			return fail(&firmware.ProtocolError{Reason: "firmware fault: " + string(f.Payload)})
		case firmware.FrameMoveDone:
			// Left over from a move on a previous connection; harmless.
			continue
		default:
			return fail(&firmware.ProtocolError{Reason: "unexpected " + f.Type.String() + " frame while streaming"})
		}
	}
}

// terminalEvent turns a loop result into the event that ends the stream
func terminalEvent(res result, total int) Event {
	switch res.outcome {
	case outcomeComplete:
		return Event{Kind: EventComplete, Sent: res.sent, Written: res.written, Total: total}
	case outcomeStopped:
		return Event{Kind: EventStopped, Sent: res.sent, Written: res.written, Total: total}
	default:
		err := res.err
		if err == nil {
			err = errors.New("stream ended without a reason")
		}
		return errorEvent(err, res.sent, res.written, total)
	}
}

// newStreamer prepares a loop for set over a connection with cfg
func newStreamer(state *State, set *instruction.Set, cfg firmware.MachineConfig, ackTimeout time.Duration,
	halt *idem.Halter, wake <-chan struct{}, sink Sink) *streamer {
	return &streamer{
		state:      state,
		bytes:      set.Bytes(),
		capacity:   cfg.InstructionBufferSize,
		ackTimeout: ackTimeout,
		halt:       halt,
		wake:       wake,
		sink:       sink,
	}
}
