package session

import (
	"sync"

	"github.com/HyphaGroup/plotd/internal/firmware"
)

// EventKind identifies what an Event reports
type EventKind string

const (
	EventNetwork    EventKind = "network"    // dialing the machine
	EventDraw       EventKind = "draw"       // drawing size known
	EventConnection EventKind = "connection" // handshake accepted
	EventMachine    EventKind = "machine"    // machine config received
	EventProgress   EventKind = "progress"
	EventPaused     EventKind = "paused"
	EventResumed    EventKind = "resumed"

	// Terminal kinds; exactly one ends every stream
	EventComplete EventKind = "complete"
	EventStopped  EventKind = "stopped"
	EventError    EventKind = "error"
)

// Event is one notification from a streaming session. Sent is the send
// cursor (bytes the firmware has acknowledged); Written is the number of
// bytes handed to the socket.
type Event struct {
	Kind    EventKind               `json:"event"`
	Message string                  `json:"message,omitempty"`
	Address string                  `json:"address,omitempty"`
	Sent    int                     `json:"sent"`
	Written int                     `json:"written,omitempty"`
	Total   int                     `json:"total"`
	Machine *firmware.MachineConfig `json:"machine,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
	ErrKind string                  `json:"error_kind,omitempty"`

	Err error `json:"-"`
}

// Terminal reports whether e ends a stream
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventComplete, EventStopped, EventError:
		return true
	}
	return false
}

// Fraction returns progress in [0, 1]; an empty drawing is complete
func (e Event) Fraction() float64 {
	if e.Total == 0 {
		return 1
	}
	return float64(e.Sent) / float64(e.Total)
}

func errorEvent(err error, sent, written, total int) Event {
	return Event{
		Kind:    EventError,
		Sent:    sent,
		Written: written,
		Total:   total,
		Reason:  err.Error(),
		ErrKind: ErrorKind(err),
		Err:     err,
	}
}

// Sink receives session events. Emit may be called from the streaming
// goroutine and from pause commands concurrently. A caller's sink may block;
// the manager delivers to it from its own goroutine.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// ChanSink forwards events to a channel
type ChanSink chan<- Event

func (c ChanSink) Emit(e Event) { c <- e }

// multiSink fans an event out to several sinks in order
type multiSink []Sink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// gatedSink drops events once the terminal event has been delivered, so a
// late pause notification never reaches a closed stream. Its downstream
// sinks must not block.
type gatedSink struct {
	mu     sync.Mutex
	sink   Sink
	closed bool
}

func newGatedSink(s Sink) *gatedSink {
	if s == nil {
		s = Discard
	}
	return &gatedSink{sink: s}
}

func (g *gatedSink) Emit(e Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.sink.Emit(e)
	if e.Terminal() {
		g.closed = true
	}
}

// queuedSink decouples a caller's sink from the session. Emit appends to an
// unbounded queue and returns; one goroutine delivers in order and exits
// after the terminal event or close.
type queuedSink struct {
	sink  Sink
	ready chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

func newQueuedSink(s Sink) *queuedSink {
	q := &queuedSink{
		sink:  s,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go q.deliver()
	return q
}

func (q *queuedSink) Emit(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, e)
	if e.Terminal() {
		q.closed = true
	}
	q.mu.Unlock()
	q.signal()
}

// close ends delivery once the queue is empty
func (q *queuedSink) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Done is closed after the last queued event has been delivered
func (q *queuedSink) Done() <-chan struct{} {
	return q.done
}

func (q *queuedSink) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queuedSink) deliver() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.ready
			continue
		}
		e := q.queue[0]
		q.queue[0] = Event{}
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.sink.Emit(e)
	}
}
