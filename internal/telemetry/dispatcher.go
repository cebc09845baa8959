package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sink consumes events. Write is only ever called from one goroutine.
type Sink interface {
	Write(ev Event)
}

// Flusher is implemented by sinks that buffer.
type Flusher interface {
	Flush(ctx context.Context) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(Event)

func (f SinkFunc) Write(ev Event) {
	f(ev)
}

// DispatcherStats provides statistics about the dispatcher.
type DispatcherStats struct {
	Emitted   int64
	Delivered int64
	Dropped   int64
	Queued    int
}

// Dispatcher decouples event producers from sinks with a bounded queue.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
	onDrop func()

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	emitted   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher starts a dispatcher feeding sink. onDrop, if non-nil, is
// called for every dropped event.
func NewDispatcher(queueSize int, sink Sink, onDrop func(), logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize < 1 {
		queueSize = 1
	}

	d := &Dispatcher{
		sink:   sink,
		logger: logger.With("component", "telemetry"),
		onDrop: onDrop,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit queues ev without blocking. It returns false if the event was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Emit(ev Event) bool {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	d.emitted.Add(1)
	if d.closed {
		d.drop(ev)
		return false
	}

	select {
	case d.queue <- ev:
		return true
	default:
		d.drop(ev)
		return false
	}
}

// Close stops accepting events, delivers what is queued and flushes the
// sink. It returns early with ctx's error if ctx ends first. Close is
// idempotent.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("telemetry drain timed out", "queued", len(d.queue))
		return ctx.Err()
	}

	if f, ok := d.sink.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Emitted:   d.emitted.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.sink.Write(ev)
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) drop(ev Event) {
	n := d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop()
	}
	if n == 1 || n%1000 == 0 {
		d.logger.Warn("telemetry events dropped", "kind", ev.Kind, "dropped", n)
	}
}
