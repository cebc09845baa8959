package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// recordingSink collects events and can be told to block.
type recordingSink struct {
	mu      sync.Mutex
	events  []Event
	entered chan struct{}
	release chan struct{}
	flushed int
}

func (s *recordingSink) Write(ev Event) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.flushed++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(100, sink, nil, nil)

	for i := 0; i < 50; i++ {
		ev := NewEvent(KindCandidate)
		ev.Count = i
		if !d.Emit(ev) {
			t.Fatalf("Emit(%d) dropped", i)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := sink.snapshot()
	if len(got) != 50 {
		t.Fatalf("delivered %d events, want 50", len(got))
	}
	for i, ev := range got {
		if ev.Count != i {
			t.Errorf("event %d has Count %d", i, ev.Count)
		}
	}
	if sink.flushed != 1 {
		t.Errorf("sink flushed %d times, want 1", sink.flushed)
	}
	if s := d.Stats(); s.Delivered != 50 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestDispatcher_EmitNeverBlocks(t *testing.T) {
	sink := &recordingSink{entered: make(chan struct{}), release: make(chan struct{})}
	var drops int
	var mu sync.Mutex
	d := NewDispatcher(1, sink, func() {
		mu.Lock()
		drops++
		mu.Unlock()
	}, nil)

	d.Emit(NewEvent(KindCopy))
	<-sink.entered // sink is now stuck on the first event

	if !d.Emit(NewEvent(KindCopy)) {
		t.Error("second event should fit in the queue")
	}

	done := make(chan bool)
	go func() { done <- d.Emit(NewEvent(KindCopy)) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("third event should be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	mu.Lock()
	if drops != 1 {
		t.Errorf("onDrop called %d times, want 1", drops)
	}
	mu.Unlock()

	go func() {
		for range sink.entered {
			sink.release <- struct{}{}
		}
	}()
	sink.release <- struct{}{}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(sink.entered)

	if got := len(sink.snapshot()); got != 2 {
		t.Errorf("delivered %d events, want 2", got)
	}
}

func TestDispatcher_CloseIdempotentAndDropsLate(t *testing.T) {
	d := NewDispatcher(10, &recordingSink{}, nil, nil)

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if d.Emit(NewEvent(KindShutdown)) {
		t.Error("Emit after Close should drop")
	}
	if d.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", d.Stats().Dropped)
	}
}

func TestDispatcher_FillsIdentity(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(10, sink, nil, nil)

	d.Emit(Event{Kind: KindCandidate})
	d.Close(context.Background())

	ev := sink.snapshot()[0]
	if ev.ID == uuid.Nil {
		t.Error("ID not assigned")
	}
	if ev.Time.IsZero() {
		t.Error("Time not assigned")
	}
}

func TestDispatcher_CloseTimeout(t *testing.T) {
	sink := &recordingSink{entered: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(10, sink, nil, nil)
	d.Emit(NewEvent(KindCopy))
	<-sink.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); err != context.DeadlineExceeded {
		t.Errorf("Close() error = %v, want %v", err, context.DeadlineExceeded)
	}
	sink.release <- struct{}{}
}
