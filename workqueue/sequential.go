// Package workqueue runs queued work one item at a time, in order.
package workqueue

import (
	"sync"
)

// Sequential runs each enqueued function after the previous one returns. No
// goroutine exists while the queue is empty; one is started by the first
// Enqueue after that and exits once it drains the queue.
type Sequential struct {
	mu      sync.Mutex
	pending []func()
	spare   []func()
	active  bool
	closed  bool
	idle    *sync.Cond

	// OnPanic, if set, receives the value of a panicking work item. The
	// queue keeps running either way.
	OnPanic func(v any)
}

func NewSequential() *Sequential {
	q := &Sequential{}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds fn to the queue. It reports false once the queue is closed.
func (q *Sequential) Enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, fn)
	if !q.active {
		q.active = true
		go q.run()
	}
	return true
}

func (q *Sequential) run() {
	for {
		q.mu.Lock()
		if q.closed || len(q.pending) == 0 {
			q.active = false
			q.pending = q.pending[:0]
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending, q.spare = q.spare[:0], nil
		q.mu.Unlock()

		for i, fn := range batch {
			if q.isClosed() {
				break
			}
			q.call(fn)
			batch[i] = nil
		}

		q.mu.Lock()
		q.spare = batch[:0]
		q.mu.Unlock()
	}
}

func (q *Sequential) call(fn func()) {
	defer func() {
		if r := recover(); r != nil && q.OnPanic != nil {
			q.OnPanic(r)
		}
	}()
	fn()
}

func (q *Sequential) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of items waiting to run.
func (q *Sequential) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close drops work that has not started and waits for the running item, if
// any, to return. It must not be called from a work item. Close is idempotent.
func (q *Sequential) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for q.active {
		q.idle.Wait()
	}
}
