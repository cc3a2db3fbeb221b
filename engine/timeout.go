// File: engine/timeout.go
// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timeout monitor. Pending payloads sit in a min-heap keyed by deadline;
// each entry stores its own heap index so disarm is O(log n) without a
// search. In the threaded configuration a dedicated goroutine sleeps
// until the earliest deadline (re-armed when the front changes) and also
// drives the periodic reassembly sweep. In poll mode the same expiry
// check runs inside PollEvents on the application's thread.

package engine

import (
	"sync"
	"time"
)

type timeoutMonitor struct {
	mu   sync.Mutex
	heap []*pendingTx

	expire func(*pendingTx)
	sweep  func(time.Time)

	kick    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	started bool
}

func newTimeoutMonitor(expire func(*pendingTx), sweep func(time.Time)) *timeoutMonitor {
	return &timeoutMonitor{
		expire: expire,
		sweep:  sweep,
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// start launches the monitor goroutine (threaded mode only).
func (m *timeoutMonitor) start() {
	m.started = true
	go m.run()
}

func (m *timeoutMonitor) stop() {
	select {
	case <-m.quit:
		return
	default:
	}
	close(m.quit)
	if m.started {
		<-m.done
	}
}

// arm inserts a pending payload. Kicks the loop when the front changed.
func (m *timeoutMonitor) arm(p *pendingTx) {
	m.mu.Lock()
	m.push(p)
	front := m.heap[0] == p
	m.mu.Unlock()
	if front {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

// disarm removes a payload that reached a terminal state through the
// transport completion path. Safe to call for entries already popped.
func (m *timeoutMonitor) disarm(p *pendingTx) {
	m.mu.Lock()
	if p.heapIndex >= 0 {
		m.remove(p.heapIndex)
	}
	m.mu.Unlock()
}

// expireDue pops every entry whose deadline has passed and resolves it
// outside the lock. Returns the wait until the next deadline, or a
// negative duration when the heap is empty.
func (m *timeoutMonitor) expireDue(now time.Time) time.Duration {
	var due []*pendingTx
	m.mu.Lock()
	for len(m.heap) > 0 && !m.heap[0].deadline.After(now) {
		p := m.heap[0]
		m.remove(0)
		due = append(due, p)
	}
	next := time.Duration(-1)
	if len(m.heap) > 0 {
		next = m.heap[0].deadline.Sub(now)
	}
	m.mu.Unlock()
	for _, p := range due {
		m.expire(p)
	}
	return next
}

func (m *timeoutMonitor) run() {
	defer close(m.done)
	timer := time.NewTimer(sweepInterval)
	defer timer.Stop()
	for {
		next := m.expireDue(time.Now())
		m.sweep(time.Now())
		wait := sweepInterval
		if next >= 0 && next < wait {
			wait = next
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-m.quit:
			return
		case <-m.kick:
		case <-timer.C:
		}
	}
}

// Heap primitives. Index bookkeeping lives in the pendingTx itself.

func (m *timeoutMonitor) push(p *pendingTx) {
	p.heapIndex = len(m.heap)
	m.heap = append(m.heap, p)
	m.up(p.heapIndex)
}

func (m *timeoutMonitor) remove(i int) {
	last := len(m.heap) - 1
	m.heap[i].heapIndex = -1
	if i != last {
		m.heap[i] = m.heap[last]
		m.heap[i].heapIndex = i
	}
	m.heap[last] = nil
	m.heap = m.heap[:last]
	if i < last {
		m.down(i)
		m.up(i)
	}
}

func (m *timeoutMonitor) less(a, b int) bool {
	return m.heap[a].deadline.Before(m.heap[b].deadline)
}

func (m *timeoutMonitor) swap(a, b int) {
	m.heap[a], m.heap[b] = m.heap[b], m.heap[a]
	m.heap[a].heapIndex = a
	m.heap[b].heapIndex = b
}

func (m *timeoutMonitor) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !m.less(i, parent) {
			break
		}
		m.swap(i, parent)
		i = parent
	}
}

func (m *timeoutMonitor) down(i int) {
	n := len(m.heap)
	for {
		left := i*2 + 1
		if left >= n {
			return
		}
		smallest := left
		if right := left + 1; right < n && m.less(right, left) {
			smallest = right
		}
		if !m.less(smallest, i) {
			return
		}
		m.swap(i, smallest)
		i = smallest
	}
}
