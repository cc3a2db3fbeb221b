// File: dispatch/dispatch.go
// Package dispatch
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Notification dispatch strategies. Exactly one strategy is chosen at
// engine initialization and injected as a dependency:
//
//   - Threaded: a bounded worker pool drains per-connection queues. For a
//     given connection at most one drain task is scheduled at any time, so
//     callbacks on one connection are serialized while different
//     connections dispatch concurrently.
//   - Poll: no background goroutine. Notifications accumulate until the
//     application polls the connection, which drains and invokes them
//     synchronously on the calling thread.
//
// Both strategies share the Queue type: a FIFO of pending callback
// invocations plus the in-flight accounting used by connection teardown.

package dispatch

import (
	"sync"

	eq "github.com/eapache/queue"

	"github.com/momentics/gccg-transport/api"
	"github.com/momentics/gccg-transport/log"
)

// Queue is one connection's notification FIFO.
type Queue struct {
	mu        sync.Mutex
	fifo      *eq.Queue
	scheduled bool // a drain task is queued or running (threaded mode)
	closed    bool
	inflight  sync.WaitGroup // queued + currently-running notifications
}

func newQueue() *Queue {
	return &Queue{fifo: eq.New()}
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Length()
}

// CloseAndWait rejects further notifications and blocks until every
// already-accepted notification has been delivered. Used by the threaded
// strategy during connection destroy.
func (q *Queue) CloseAndWait() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.inflight.Wait()
}

// CloseAndDiscard rejects further notifications and drops the queued
// ones. Used by the poll strategy during connection destroy, where there
// is no thread left to deliver them. Returns the number discarded.
func (q *Queue) CloseAndDiscard() int {
	q.mu.Lock()
	q.closed = true
	n := q.fifo.Length()
	for q.fifo.Length() > 0 {
		q.fifo.Remove()
		q.inflight.Done()
	}
	q.mu.Unlock()
	q.inflight.Wait()
	return n
}

// push appends fn unless the queue is closed.
func (q *Queue) push(fn func()) (accepted, needSchedule bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, false
	}
	q.fifo.Add(fn)
	q.inflight.Add(1)
	if !q.scheduled {
		q.scheduled = true
		return true, true
	}
	return true, false
}

// pop removes the head notification; ok is false when empty. In threaded
// mode an empty pop also clears the scheduled flag under the same lock so
// the next push reschedules.
func (q *Queue) pop(clearSchedule bool) (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fifo.Length() == 0 {
		if clearSchedule {
			q.scheduled = false
		}
		return nil, false
	}
	return q.fifo.Remove().(func()), true
}

// Dispatcher delivers queued notifications to registered callbacks under
// the per-connection serialization guarantee.
type Dispatcher interface {
	// NewQueue creates the notification queue for one connection.
	NewQueue() *Queue
	// Enqueue schedules fn for delivery on the connection's queue.
	// Notifications enqueued after the queue closed are dropped.
	Enqueue(q *Queue, fn func())
	// Poll synchronously drains q on the calling thread and returns the
	// number of notifications delivered. Fails with ErrPollModeOnly on the
	// threaded strategy.
	Poll(q *Queue) (int, error)
	// PollMode reports whether this is the poll strategy.
	PollMode() bool
	// Close stops the strategy's resources.
	Close()
}

// threaded drains queues on a bounded worker pool.
type threaded struct {
	exec api.Executor
}

// NewThreaded returns the worker-pool strategy. The dispatcher takes
// ownership of the executor and closes it with Close.
func NewThreaded(exec api.Executor) Dispatcher {
	return &threaded{exec: exec}
}

func (d *threaded) NewQueue() *Queue { return newQueue() }

func (d *threaded) Enqueue(q *Queue, fn func()) {
	accepted, schedule := q.push(fn)
	if !accepted || !schedule {
		return
	}
	if err := d.exec.Submit(func() { d.drain(q) }); err != nil {
		// Executor is closing; deliver inline so accounting still resolves.
		log.Warnf("dispatch submit failed, draining inline: %v", err)
		d.drain(q)
	}
}

// drain delivers queued notifications one at a time. The scheduled flag is
// cleared under the queue lock on the empty pop, so a concurrent push
// either sees the flag set (we will pop its entry) or reschedules.
func (d *threaded) drain(q *Queue) {
	for {
		fn, ok := q.pop(true)
		if !ok {
			return
		}
		fn()
		q.inflight.Done()
	}
}

func (d *threaded) Poll(*Queue) (int, error) { return 0, api.ErrPollModeOnly }
func (d *threaded) PollMode() bool           { return false }
func (d *threaded) Close()                   { d.exec.Close() }

// polled accumulates notifications until the application drains them.
type polled struct{}

// NewPoll returns the poll-driven strategy.
func NewPoll() Dispatcher { return &polled{} }

func (d *polled) NewQueue() *Queue { return newQueue() }

func (d *polled) Enqueue(q *Queue, fn func()) {
	q.push(fn)
}

func (d *polled) Poll(q *Queue) (int, error) {
	n := 0
	for {
		fn, ok := q.pop(false)
		if !ok {
			return n, nil
		}
		fn()
		q.inflight.Done()
		n++
	}
}

func (d *polled) PollMode() bool { return true }
func (d *polled) Close()         {}
