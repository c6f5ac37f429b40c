// Package notify runs out-of-band code delivery on a bounded worker pool so
// that MFA requests never wait on the notification sink.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goMFA/internal/queue"
)

// Config controls queue depth, parallelism and per-send deadline.
type Config struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// Job is one delivery. Send receives a context bounded by SendTimeout.
type Job struct {
	UserID string
	Send   func(ctx context.Context) error
}

// Dispatcher is a fire-and-forget job queue. Enqueue never blocks; when the
// queue is full the job is counted as dropped.
type Dispatcher struct {
	timeout time.Duration
	onError func(job Job, err error)
	q       *queue.Queue[Job]
	failed  atomic.Uint64
}

// NewDispatcher starts cfg.Workers goroutines. onError may be nil.
func NewDispatcher(cfg Config, onError func(job Job, err error)) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if onError == nil {
		onError = func(Job, error) {}
	}

	d := &Dispatcher{timeout: cfg.SendTimeout, onError: onError}
	d.q = queue.New(cfg.QueueSize, cfg.Workers, false, d.deliver)
	return d
}

func (d *Dispatcher) deliver(job Job) {
	if job.Send == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := job.Send(ctx); err != nil {
		d.failed.Add(1)
		d.onError(job, err)
	}
}

// Enqueue schedules job. It reports false when the job was dropped because
// the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(job Job) bool {
	if d == nil {
		return false
	}
	return d.q.Push(context.Background(), job)
}

// Close stops intake and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.q.Close()
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.q.Dropped()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
