package session

import (
	"sync"
	"testing"
)

func progress(sent int) Event {
	return Event{Kind: EventProgress, Sent: sent, Total: 1000}
}

func TestEventBuffer_Append(t *testing.T) {
	buf := NewEventBuffer("run-1", 10)

	if idx := buf.Append(Event{Kind: EventNetwork, Address: "10.0.0.2:8888"}); idx != 0 {
		t.Errorf("first index = %v, want 0", idx)
	}
	if idx := buf.Append(progress(256)); idx != 1 {
		t.Errorf("second index = %v, want 1", idx)
	}
	if buf.Len() != 2 {
		t.Errorf("Len() = %v, want 2", buf.Len())
	}
}

func TestEventBuffer_After(t *testing.T) {
	buf := NewEventBuffer("run-1", 10)
	buf.Append(progress(256))
	buf.Append(progress(512))
	buf.Append(progress(768))

	tests := []struct {
		name      string
		index     int
		wantCount int
	}{
		{"all events (since -1)", -1, 3},
		{"after first event", 0, 2},
		{"after last event", 2, 0},
		{"future index", 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := buf.After(tt.index)
			if err != nil {
				t.Fatalf("After() error = %v", err)
			}
			if len(events) != tt.wantCount {
				t.Errorf("After() count = %v, want %v", len(events), tt.wantCount)
			}
		})
	}
}

func TestEventBuffer_DropsOldestProgressFirst(t *testing.T) {
	buf := NewEventBuffer("run-1", 4)
	buf.Append(Event{Kind: EventNetwork, Address: "10.0.0.2:8888"})
	buf.Append(Event{Kind: EventDraw, Total: 1000})
	for _, sent := range []int{100, 200, 300, 400} {
		buf.Append(progress(sent))
	}

	if buf.Len() != 4 {
		t.Errorf("Len() = %v, want 4", buf.Len())
	}
	if buf.DroppedEvents() != 2 {
		t.Errorf("DroppedEvents() = %v, want 2", buf.DroppedEvents())
	}

	events, err := buf.After(-1)
	if err != nil {
		t.Fatalf("After(-1) error = %v", err)
	}
	wantIndex := []int{0, 1, 4, 5}
	wantKind := []EventKind{EventNetwork, EventDraw, EventProgress, EventProgress}
	if len(events) != len(wantIndex) {
		t.Fatalf("After(-1) count = %d, want %d", len(events), len(wantIndex))
	}
	for i, e := range events {
		if e.Index != wantIndex[i] || e.Event.Kind != wantKind[i] {
			t.Errorf("events[%d] = %d %s, want %d %s", i, e.Index, e.Event.Kind, wantIndex[i], wantKind[i])
		}
	}

	// A poller that saw index 2 skips the dropped progress event and
	// resumes at the next retained one.
	after, err := buf.After(2)
	if err != nil {
		t.Fatalf("After(2) error = %v", err)
	}
	if len(after) != 2 || after[0].Index != 4 {
		t.Errorf("After(2) = %d events starting at %d, want 2 starting at 4", len(after), after[0].Index)
	}
	if got := buf.Stats().LostIndex; got != -1 {
		t.Errorf("LostIndex = %d, want -1", got)
	}
}

func TestEventBuffer_PurgedEventsError(t *testing.T) {
	buf := NewEventBuffer("run-1", 2)
	buf.Append(Event{Kind: EventNetwork})
	buf.Append(Event{Kind: EventDraw})
	buf.Append(Event{Kind: EventConnection})
	buf.Append(Event{Kind: EventMachine})

	if _, err := buf.After(0); err == nil {
		t.Error("After(0) should return error for purged events")
	}
	if got := buf.Stats().LostIndex; got != 1 {
		t.Errorf("LostIndex = %d, want 1", got)
	}
	events, err := buf.After(1)
	if err != nil {
		t.Fatalf("After(1) error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("After(1) count = %d, want 2", len(events))
	}
	if all, err := buf.After(-1); err != nil || len(all) != 2 {
		t.Errorf("After(-1) = %d events, %v, want 2, nil", len(all), err)
	}
}

func TestEventBuffer_LastIndexAndStats(t *testing.T) {
	buf := NewEventBuffer("run-7", 5)
	if buf.LastIndex() != -1 {
		t.Errorf("LastIndex() on empty = %v, want -1", buf.LastIndex())
	}

	buf.Emit(progress(1))
	buf.Emit(Event{Kind: EventComplete})

	if buf.LastIndex() != 1 {
		t.Errorf("LastIndex() = %v, want 1", buf.LastIndex())
	}
	stats := buf.Stats()
	if stats.RunID != "run-7" {
		t.Errorf("Stats.RunID = %v, want run-7", stats.RunID)
	}
	if stats.CurrentSize != 2 || stats.MaxSize != 5 || stats.StartIndex != 0 || stats.LastIndex != 1 {
		t.Errorf("Stats = %+v, want size 2, max 5, start 0, last 1", stats)
	}
}

func TestEventBuffer_DefaultSize(t *testing.T) {
	buf := NewEventBuffer("run-1", 0)
	if got := buf.Stats().MaxSize; got != DefaultEventBufferSize {
		t.Errorf("MaxSize = %v, want %v", got, DefaultEventBufferSize)
	}
}

func TestEventBuffer_ConcurrentAccess(t *testing.T) {
	buf := NewEventBuffer("run-1", 100)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf.Append(progress(i))
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = buf.After(-1)
			buf.LastIndex()
			buf.Stats()
		}()
	}
	wg.Wait()

	if buf.Len() != 50 {
		t.Errorf("Len() = %v, want 50", buf.Len())
	}
}
