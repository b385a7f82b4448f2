package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config sizes the dispatcher queue and picks its overflow policy.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events when the queue is full instead of making
	// the emitting request wait.
	DropIfFull bool
	// OnDrop is called with every discarded event.
	OnDrop func(Event)
}

// Dispatcher relays events to a Sink from a single worker goroutine. A nil
// *Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	onDrop     func(Event)

	// mu is held shared by senders and exclusively by Close, so the queue
	// is never closed under a pending send.
	mu     sync.RWMutex
	queue  chan Event
	closed bool
	idle   chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher returns nil when cfg.Enabled is false.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		onDrop:     cfg.OnDrop,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		idle:       make(chan struct{}),
	}
	go d.work()
	return d
}

func (d *Dispatcher) work() {
	defer close(d.idle)
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
		d.delivered.Add(1)
	}
}

// Emit enqueues ev. Events emitted after Close are ignored. In blocking
// mode Emit gives up when ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
			if d.onDrop != nil {
				d.onDrop(ev)
			}
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	}
}

// Close stops intake and waits for every queued event to reach the sink.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.idle
}

// Dropped counts events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts events handed to the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
