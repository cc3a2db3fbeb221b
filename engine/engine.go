// File: engine/engine.go
// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package engine implements the GCCG transport engine: connection
// lifecycle, buffer pooling, payload scheduling with deadline
// enforcement, segmented reassembly and notification dispatch.
//
// An Engine is an explicit context object; there is no implicit global
// state. The threading model is fixed at construction: MaxThreads == 0
// selects the single-threaded poll-driven configuration where the
// application drives delivery through PollEvents, any other value selects
// a bounded worker pool that invokes callbacks from its own threads.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/momentics/gccg-transport/api"
	"github.com/momentics/gccg-transport/control"
	"github.com/momentics/gccg-transport/descriptor"
	"github.com/momentics/gccg-transport/dispatch"
	"github.com/momentics/gccg-transport/internal/concurrency"
	"github.com/momentics/gccg-transport/log"
)

// Engine states.
const (
	engineRunning int32 = iota
	engineShutdown
)

// sweepInterval bounds how long a stalled segmented reassembly can go
// unnoticed in the threaded configuration.
const sweepInterval = 50 * time.Millisecond

// BindingFactories supplies the wire protocol underneath the engine.
// The engine treats bindings as black boxes moving opaque byte spans.
type BindingFactories struct {
	// NewTx opens the transmit side for a validated Tx descriptor.
	NewTx func(desc *descriptor.Connection) (api.TxBinding, error)
	// NewRx opens the receive side for a validated Rx descriptor.
	NewRx func(desc *descriptor.Connection) (api.RxBinding, error)
}

// Options configures an Engine. All fields are fixed for the engine's
// lifetime.
type Options struct {
	// MaxThreads bounds the worker pool: 0 selects poll mode, -1 leaves
	// the pool unrestricted (one worker per CPU), any positive value caps
	// the pool at that many workers.
	MaxThreads int
	// MaxPriority is the highest scheduling priority workers may use,
	// 0 (lowest) to 99 (highest), or -1 for unrestricted.
	MaxPriority int
	// Bindings supplies the wire protocol. Required.
	Bindings BindingFactories
}

// Engine is the transport engine context.
type Engine struct {
	opts    Options
	reg     registry
	disp    dispatch.Dispatcher
	monitor *timeoutMonitor
	stats   control.Stats
	probes  *control.DebugProbes
	state   atomic.Int32
}

// New constructs an engine with the threading model fixed by opts.
func New(opts Options) (*Engine, error) {
	if opts.MaxThreads < -1 {
		return nil, api.ErrInvalidParameter.WithContext("max_threads", opts.MaxThreads)
	}
	if opts.MaxPriority < -1 || opts.MaxPriority > 99 {
		return nil, api.ErrInvalidParameter.WithContext("max_priority", opts.MaxPriority)
	}
	if opts.Bindings.NewTx == nil && opts.Bindings.NewRx == nil {
		return nil, api.ErrInvalidParameter.WithContext("reason", "no binding factories configured")
	}
	e := &Engine{
		opts:   opts,
		probes: control.NewDebugProbes(),
	}
	if opts.MaxThreads == 0 {
		e.disp = dispatch.NewPoll()
	} else {
		workers := opts.MaxThreads
		if workers < 0 {
			workers = 0 // pool defaults to NumCPU
		}
		e.disp = dispatch.NewThreaded(concurrency.NewPool(workers, opts.MaxPriority))
	}
	e.monitor = newTimeoutMonitor(e.expireTx, e.sweepAll)
	if opts.MaxThreads != 0 {
		e.monitor.start()
	}
	e.probes.RegisterProbe("stats", func() any { return e.stats.Snapshot() })
	e.probes.RegisterProbe("connections", func() any { return e.reg.count() })
	log.Infof("engine initialized (max_threads=%d max_priority=%d)", opts.MaxThreads, opts.MaxPriority)
	return e, nil
}

// PollMode reports whether the engine runs the single-threaded
// poll-driven configuration.
func (e *Engine) PollMode() bool { return e.disp.PollMode() }

// Stats exposes the engine counters.
func (e *Engine) Stats() *control.Stats { return &e.stats }

// Probes exposes the debug probe registry.
func (e *Engine) Probes() *control.DebugProbes { return e.probes }

func (e *Engine) running() bool { return e.state.Load() == engineRunning }

// Shutdown destroys all remaining connections and stops the engine.
// Further operations fail with InvalidParameter.
func (e *Engine) Shutdown() error {
	if !e.state.CompareAndSwap(engineRunning, engineShutdown) {
		return api.ErrEngineShutdown
	}
	for _, c := range e.reg.all() {
		if err := e.destroy(c.handle); err != nil {
			log.Warnf("shutdown: destroy %v: %v", c.handle, err)
		}
	}
	e.monitor.stop()
	e.disp.Close()
	log.Infof("engine shut down")
	return nil
}

// sweepAll walks every live connection's reassembly table, expiring
// stalled segmented payloads. Invoked by the monitor loop in threaded
// mode and by PollEvents in poll mode.
func (e *Engine) sweepAll(now time.Time) {
	for _, c := range e.reg.all() {
		if c.role == RoleRx {
			e.sweepConn(c, now)
		}
	}
}
