// Package session streams instruction sets to the plotter firmware and
// carries the pause, stop and move-to-start commands that run beside a
// stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/idem"
	"github.com/google/uuid"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/geometry"
	"github.com/HyphaGroup/plotd/internal/history"
	"github.com/HyphaGroup/plotd/internal/instruction"
	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/metrics"
)

// ConnectedMessage is the connection event text shown to the user
const ConnectedMessage = "Machine accepted connection"

// DefaultMaxRuns is how many finished runs stay readable in memory
const DefaultMaxRuns = 16

// Recorder persists run history. *history.Store satisfies it.
type Recorder interface {
	Begin(ctx context.Context, run *history.Run) error
	Finish(ctx context.Context, run *history.Run) error
}

// Options configures a Manager
type Options struct {
	Firmware firmware.Options
	// AckTimeout bounds the wait for an acknowledgement while bytes are in
	// flight and the stream is not paused; 0 waits forever
	AckTimeout      time.Duration
	EventBufferSize int
	MaxRuns         int
	History         Recorder
}

// DefaultOptions returns the options used when the config leaves them unset
func DefaultOptions() Options {
	return Options{
		Firmware:        firmware.DefaultOptions(),
		AckTimeout:      30 * time.Second,
		EventBufferSize: DefaultEventBufferSize,
		MaxRuns:         DefaultMaxRuns,
	}
}

// Manager owns the process-wide State and the runs streamed through it
type Manager struct {
	state *State
	opts  Options

	mu      sync.RWMutex
	runs    map[string]*Run
	order   []string
	current *Run

	wg sync.WaitGroup
}

// NewManager creates a manager with an empty State
func NewManager(opts Options) *Manager {
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = DefaultMaxRuns
	}
	return &Manager{
		state: NewState(),
		opts:  opts,
		runs:  make(map[string]*Run),
	}
}

// State returns the shared session state
func (m *Manager) State() *State {
	return m.state
}

// Launch claims the session and streams set to address on a new goroutine.
// It fails with ErrSessionBusy while another stream is running. Every event,
// including the terminal one, goes to the run's event buffer and, from a
// separate goroutine, to sink. A slow sink never holds up the stream or the
// pause and stop commands.
func (m *Manager) Launch(ctx context.Context, address string, set *instruction.Set, sink Sink) (*Run, error) {
	if set == nil {
		return nil, errors.New("no instruction set")
	}
	address = firmware.NormalizeAddress(address)

	run := newRun(uuid.New().String(), address, set.Len(), m.opts.EventBufferSize)
	sinks := multiSink{run.Events}
	var queued *queuedSink
	if sink != nil {
		queued = newQueuedSink(sink)
		run.delivered = queued.Done()
		sinks = append(sinks, queued)
	}
	out := newGatedSink(sinks)

	halt, wake, err := m.state.claim(out)
	if err != nil {
		if queued != nil {
			queued.close()
		}
		return nil, err
	}
	m.track(run)
	metrics.RecordSessionStart()
	m.recordBegin(ctx, run)
	logger.Info("Session %s: streaming %d bytes to %s", run.ID, run.Total, address)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, run, set, halt, wake, out)
	}()
	return run, nil
}

// Start streams set to address and returns once sink has received the
// terminal event. It returns the error carried by an "error" terminal event,
// and nil for "complete" and "stopped".
func (m *Manager) Start(ctx context.Context, address string, set *instruction.Set, sink Sink) error {
	run, err := m.Launch(ctx, address, set, sink)
	if err != nil {
		return err
	}
	<-run.Done()
	<-run.Delivered()
	return run.Err()
}

// Stream is Start with a channel sink. The channel is closed after the
// terminal event. A stream that cannot be launched, for example because the
// session is busy, yields a single error event. A consumer that stops
// reading holds back only its own channel.
func (m *Manager) Stream(ctx context.Context, address string, set *instruction.Set) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		run, err := m.Launch(ctx, address, set, ChanSink(ch))
		if err != nil {
			ch <- errorEvent(err, 0, 0, 0)
			return
		}
		<-run.Delivered()
	}()
	return ch
}

// TogglePause flips the pause flag of the running stream and tells the
// firmware. It fails with ErrNoActiveSession when nothing is connected.
func (m *Manager) TogglePause(ctx context.Context) (bool, error) {
	paused, sink, err := m.state.togglePause()
	if errors.Is(err, ErrNoActiveSession) {
		return false, err
	}

	kind := EventResumed
	if paused {
		kind = EventPaused
	}
	metrics.RecordControlFrame(string(kind))
	if err != nil {
		logger.ErrorContext(ctx, "pause frame failed", "paused", paused, "error", err)
		return paused, err
	}

	logger.InfoContext(ctx, "stream "+string(kind))
	if sink != nil {
		sink.Emit(Event{Kind: kind, Sent: m.state.Snapshot().Cursor})
	}
	return paused, nil
}

// Stop asks the running stream to end. The loop tears the session down and
// emits "stopped". With nothing running it does nothing and returns nil.
func (m *Manager) Stop(ctx context.Context) error {
	wrote, err := m.state.stop()
	if wrote {
		metrics.RecordControlFrame("stop")
		logger.InfoContext(ctx, "stop requested")
	}
	return err
}

// MoveToStart drives the pen to page position (x, y) over its own short
// connection. It never touches the session state; callers must not run it
// while a stream is active on the same machine.
func (m *Manager) MoveToStart(ctx context.Context, address string, dims geometry.PhysicalDimensions, x, y float64) error {
	if err := dims.Validate(); err != nil {
		return err
	}
	left, right := dims.CordLengths(x, y)
	metrics.RecordControlFrame("move")
	if err := firmware.MoveTo(ctx, address, left, right, m.opts.Firmware); err != nil {
		return fmt.Errorf("move to start (%.1f, %.1f): %w", x, y, err)
	}
	return nil
}

// Run returns a tracked run by ID
func (m *Manager) Run(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// Current returns the most recently launched run
func (m *Manager) Current() (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current != nil
}

// Close stops any running stream and waits for it to finish or ctx to end
func (m *Manager) Close(ctx context.Context) error {
	_ = m.Stop(ctx)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, run *Run, set *instruction.Set, halt *idem.Halter, wake <-chan struct{}, sink Sink) {
	res := m.execute(ctx, run, set, halt, wake, sink)

	m.state.release()
	run.finish(res)
	metrics.RecordSessionEnd(string(res.outcome), time.Since(run.StartedAt))
	m.recordFinish(run)

	if res.err != nil {
		logger.Error("Session %s: %s after %d/%d bytes: %v", run.ID, res.outcome, res.sent, run.Total, res.err)
	} else {
		logger.Info("Session %s: %s after %d/%d bytes", run.ID, res.outcome, res.sent, run.Total)
	}

	sink.Emit(terminalEvent(res, run.Total))
	close(run.done)
}

// execute performs the handshake and the loop. The session is fully torn
// down when it returns.
func (m *Manager) execute(ctx context.Context, run *Run, set *instruction.Set, halt *idem.Halter, wake <-chan struct{}, sink Sink) result {
	if set.Len() == 0 {
		return result{outcome: outcomeComplete}
	}

	sink.Emit(Event{Kind: EventNetwork, Address: run.Address, Total: run.Total})
	sink.Emit(Event{Kind: EventDraw, Total: run.Total})

	conn, cfg, err := firmware.Dial(ctx, run.Address, m.opts.Firmware)
	if err != nil {
		metrics.RecordHandshakeFailure(ErrorKind(err))
		return result{outcome: outcomeError, err: err}
	}
	r, w := conn.Split()
	m.state.install(r, w)

	run.setMachine(cfg)
	sink.Emit(Event{Kind: EventConnection, Message: ConnectedMessage, Address: run.Address, Total: run.Total})
	sink.Emit(Event{Kind: EventMachine, Machine: &cfg, Total: run.Total})

	st := newStreamer(m.state, set, cfg, m.opts.AckTimeout, halt, wake, sink)
	st.onProgress = run.progress
	return st.stream(ctx, conn)
}

// track registers run as current and forgets the oldest finished runs
func (m *Manager) track(run *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	m.current = run

	for len(m.order) > m.opts.MaxRuns {
		oldest := m.runs[m.order[0]]
		if oldest != nil && oldest.IsRunning() {
			break
		}
		delete(m.runs, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) recordBegin(ctx context.Context, run *Run) {
	if m.opts.History == nil {
		return
	}
	if err := m.opts.History.Begin(context.WithoutCancel(ctx), run.record()); err != nil {
		logger.Error("Failed to record run %s: %v", run.ID, err)
	}
}

func (m *Manager) recordFinish(run *Run) {
	if m.opts.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.opts.History.Finish(ctx, run.record()); err != nil {
		logger.Error("Failed to record outcome of run %s: %v", run.ID, err)
	}
}
