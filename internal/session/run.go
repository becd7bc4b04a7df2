package session

import (
	"sync"
	"time"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/history"
)

// Run is one Start call: a drawing streamed to one machine. It outlives the
// stream so its events can still be read after it ends.
type Run struct {
	ID        string
	Address   string
	Total     int
	StartedAt time.Time
	Events    *EventBuffer

	done      chan struct{}
	delivered <-chan struct{}

	mu         sync.RWMutex
	outcome    history.Outcome
	sent       int
	written    int
	machine    *firmware.MachineConfig
	err        error
	finishedAt time.Time
}

// RunInfo is a JSON-friendly snapshot of a Run
type RunInfo struct {
	ID         string                  `json:"id"`
	Address    string                  `json:"address"`
	Outcome    history.Outcome         `json:"outcome"`
	Sent       int                     `json:"sent"`
	Written    int                     `json:"written"`
	Total      int                     `json:"total"`
	Machine    *firmware.MachineConfig `json:"machine,omitempty"`
	Error      string                  `json:"error,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
	LastIndex  int                     `json:"last_index"`
}

func newRun(id, address string, total, bufferSize int) *Run {
	return &Run{
		ID:        id,
		Address:   address,
		Total:     total,
		StartedAt: time.Now(),
		Events:    NewEventBuffer(id, bufferSize),
		done:      make(chan struct{}),
		delivered: closedChan,
		outcome:   history.OutcomeRunning,
	}
}

// Done is closed once the stream has ended and its terminal event is in the
// run's event buffer. It does not wait for the caller's sink.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Delivered is closed once the caller's sink has received every event,
// including the terminal one.
func (r *Run) Delivered() <-chan struct{} {
	return r.delivered
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Err returns the error that ended the run, if any
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// IsRunning reports whether the stream has not ended yet
func (r *Run) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome == history.OutcomeRunning
}

// Info returns a snapshot of the run
func (r *Run) Info() RunInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := RunInfo{
		ID:        r.ID,
		Address:   r.Address,
		Outcome:   r.outcome,
		Sent:      r.sent,
		Written:   r.written,
		Total:     r.Total,
		Machine:   r.machine,
		StartedAt: r.StartedAt,
		LastIndex: r.Events.LastIndex(),
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		info.FinishedAt = &t
	}
	return info
}

func (r *Run) setMachine(cfg firmware.MachineConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machine = &cfg
}

func (r *Run) progress(sent, written int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = sent
	r.written = written
}

func (r *Run) finish(res result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = history.Outcome(res.outcome)
	r.sent = res.sent
	r.written = res.written
	r.err = res.err
	r.finishedAt = time.Now()
}

// record converts the run into its history row
func (r *Run) record() *history.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hr := &history.Run{
		ID:           r.ID,
		Address:      r.Address,
		TotalBytes:   r.Total,
		SentBytes:    r.sent,
		WrittenBytes: r.written,
		Outcome:      r.outcome,
		StartedAt:    r.StartedAt,
	}
	if r.err != nil {
		hr.Error = r.err.Error()
		hr.ErrorKind = ErrorKind(r.err)
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		hr.FinishedAt = &t
	}
	return hr
}
