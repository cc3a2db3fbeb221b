// File: internal/concurrency/workers.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded worker pool backing the threaded dispatch strategy. Workers are
// plain goroutines pulling from a shared task channel; when a maximum
// thread priority is configured each worker locks its OS thread and
// applies the mapped niceness before serving tasks.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/gccg-transport/api"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = api.NewError(api.StatusError, "worker pool is closed")

// Pool is a fixed-size worker pool implementing api.Executor.
type Pool struct {
	tasks  chan func()
	quit   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ api.Executor = (*Pool)(nil)

// NewPool starts workers goroutines. workers <= 0 selects runtime.NumCPU.
// maxPriority is the 0..99 scheduling ceiling from engine initialization,
// or -1 for unrestricted.
func NewPool(workers, maxPriority int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		tasks: make(chan func(), workers*64),
		quit:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(maxPriority)
	}
	return p
}

// Submit schedules a task. Returns ErrPoolClosed after Close.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Close stops the pool. Already-submitted tasks are run before workers
// exit; Close blocks until all workers have stopped.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.quit)
	p.wg.Wait()
}

func (p *Pool) run(maxPriority int) {
	defer p.wg.Done()
	if maxPriority >= 0 {
		runtime.LockOSThread()
		applyThreadPriority(maxPriority)
	}
	for {
		select {
		case task := <-p.tasks:
			p.safeExecute(task)
		case <-p.quit:
			// Drain remaining tasks so queued notifications still run.
			for {
				select {
				case task := <-p.tasks:
					p.safeExecute(task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) safeExecute(task func()) {
	defer func() { _ = recover() }()
	task()
}
