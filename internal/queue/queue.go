// Package queue is a bounded in-process work queue drained by a fixed set
// of workers. It backs the audit and notification dispatchers.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue hands pushed items to handle on worker goroutines.
type Queue[T any] struct {
	handle    func(T)
	block     bool
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts workers goroutines. With block set, Push waits for room
// instead of dropping.
func New[T any](size, workers int, block bool, handle func(T)) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	q := &Queue[T]{
		handle: handle,
		block:  block,
		ch:     make(chan T, size),
		done:   make(chan struct{}),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.run()
	}
	return q
}

func (q *Queue[T]) run() {
	defer q.wg.Done()

	for {
		select {
		case item := <-q.ch:
			q.handle(item)
		case <-q.done:
			// drain what was accepted before Close
			for {
				select {
				case item := <-q.ch:
					q.handle(item)
				default:
					return
				}
			}
		}
	}
}

// Push reports whether item was accepted. A non-blocking queue counts a
// full buffer as a drop; a blocking one gives up when ctx ends.
func (q *Queue[T]) Push(ctx context.Context, item T) bool {
	if q == nil || q.closed.Load() {
		return false
	}

	if !q.block {
		select {
		case q.ch <- item:
			return true
		case <-q.done:
			return false
		default:
			q.dropped.Add(1)
			return false
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.ch <- item:
		return true
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	}
}

// Close stops intake and waits until accepted items are handled.
func (q *Queue[T]) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
		q.wg.Wait()
	})
}

func (q *Queue[T]) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Len is the number of accepted items not yet picked up by a worker.
func (q *Queue[T]) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}
