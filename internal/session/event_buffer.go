package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HyphaGroup/plotd/internal/metrics"
)

/*
EVENT BUFFER

Bounded storage for the events of one run, so a UI that polls (or that lost
its connection) can resume from the last index it saw.

Indices are assigned in append order and never reused. A long drawing
produces one progress event per ack, far more than the handful of
preamble, pause and terminal events, so eviction is lopsided:

    full buffer, new event arrives
        oldest progress event present?  drop it
        otherwise                       drop the oldest event, and
                                        remember its index as lost

Progress is cumulative (each event carries the absolute cursor), so a
poller that skips a dropped progress event misses nothing. Only a lost
non-progress event makes a resume impossible:

    After(-1)          every buffered event
    After(i), i < lost error "events purged"
    After(i)           buffered events with Index > i

Retained events stay sorted by Index; After binary-searches them.
*/

// DefaultEventBufferSize holds every event of a drawing up to a few hundred
// windows; longer drawings thin out their oldest progress events.
const DefaultEventBufferSize = 1000

// BufferedEvent is an Event with its position in the run
type BufferedEvent struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
}

// EventBuffer keeps the events of one run for index-based polling
type EventBuffer struct {
	runID   string
	events  []*BufferedEvent
	maxSize int
	next    int // index of the next appended event
	lost    int // highest index of an evicted non-progress event, -1 if none
	dropped int64

	mu sync.RWMutex
}

// BufferStats contains statistics about the event buffer
type BufferStats struct {
	RunID         string `json:"run_id"`
	CurrentSize   int    `json:"current_size"`
	MaxSize       int    `json:"max_size"`
	StartIndex    int    `json:"start_index"`
	LastIndex     int    `json:"last_index"`
	LostIndex     int    `json:"lost_index"`
	DroppedEvents int64  `json:"dropped_events"`
}

// NewEventBuffer creates an event buffer for one run
func NewEventBuffer(runID string, maxSize int) *EventBuffer {
	if maxSize <= 0 {
		maxSize = DefaultEventBufferSize
	}
	return &EventBuffer{
		runID:   runID,
		events:  make([]*BufferedEvent, 0, maxSize),
		maxSize: maxSize,
		lost:    -1,
	}
}

// Append adds an event to the buffer and returns its index
func (b *EventBuffer) Append(event Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.maxSize {
		b.evict()
	}
	index := b.next
	b.next++
	b.events = append(b.events, &BufferedEvent{
		Index:     index,
		Timestamp: time.Now(),
		Event:     event,
	})
	return index
}

// evict removes one event to make room. Caller holds mu.
func (b *EventBuffer) evict() {
	victim := 0
	for i, be := range b.events {
		if be.Event.Kind == EventProgress {
			victim = i
			break
		}
	}
	if kind := b.events[victim].Event.Kind; kind != EventProgress {
		b.lost = b.events[victim].Index
	}
	b.events = append(b.events[:victim], b.events[victim+1:]...)
	b.dropped++
	metrics.RecordEventDrop()
}

// After returns the buffered events with an index greater than index.
// index -1 returns everything still buffered.
func (b *EventBuffer) After(index int) ([]*BufferedEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if index != -1 && index < b.lost {
		return nil, fmt.Errorf("events up to index %d have been purged (requested after %d)", b.lost, index)
	}

	start := sort.Search(len(b.events), func(i int) bool {
		return b.events[i].Index > index
	})
	result := make([]*BufferedEvent, len(b.events)-start)
	copy(result, b.events[start:])
	return result, nil
}

// LastIndex returns the index of the most recent event, or -1 if empty.
// The most recent event is never evicted.
func (b *EventBuffer) LastIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.next - 1
}

// Len returns the number of events currently buffered
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// RunID returns the run this buffer belongs to
func (b *EventBuffer) RunID() string {
	return b.runID
}

// Emit lets the buffer act as a Sink
func (b *EventBuffer) Emit(e Event) {
	b.Append(e)
}

// DroppedEvents returns how many events were evicted
func (b *EventBuffer) DroppedEvents() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Stats returns current buffer statistics
func (b *EventBuffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := b.next
	if len(b.events) > 0 {
		start = b.events[0].Index
	}
	return BufferStats{
		RunID:         b.runID,
		CurrentSize:   len(b.events),
		MaxSize:       b.maxSize,
		StartIndex:    start,
		LastIndex:     b.next - 1,
		LostIndex:     b.lost,
		DroppedEvents: b.dropped,
	}
}
