package audit

import (
	"context"

	"github.com/MrEthical07/goMFA/internal/queue"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink on a single worker, which
// keeps events for one user in emission order.
type Dispatcher struct {
	q *queue.Queue[Event]
}

// NewDispatcher returns nil when auditing is disabled; a nil Dispatcher
// accepts and discards everything.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	emit := func(e Event) { sink.Emit(context.Background(), e) }
	return &Dispatcher{q: queue.New(cfg.BufferSize, 1, !cfg.DropIfFull, emit)}
}

// Emit queues event. Without DropIfFull it waits for buffer space until ctx
// ends.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	d.q.Push(ctx, event)
}

// Close stops accepting events and drains the buffer into the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.q.Close()
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.q.Dropped()
}

func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	return d.q.Len()
}
