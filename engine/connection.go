// File: engine/connection.go
// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection lifecycle: Created -> Active -> Draining -> Destroyed.
// Creation is all-or-nothing: if the caller's descriptor output buffer is
// too small, nothing is registered. Destroy blocks until no in-flight
// payload or callback references the connection.

package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/gccg-transport/api"
	"github.com/momentics/gccg-transport/descriptor"
	"github.com/momentics/gccg-transport/dispatch"
	"github.com/momentics/gccg-transport/log"
	"github.com/momentics/gccg-transport/pool"
)

// Role distinguishes transmitter and receiver flows.
type Role uint8

const (
	RoleTx Role = iota
	RoleRx
)

func (r Role) String() string {
	if r == RoleTx {
		return "tx"
	}
	return "rx"
}

// Connection states.
const (
	connActive int32 = iota
	connDraining
	connDestroyed
)

// Connection is one registered Tx or Rx flow.
type Connection struct {
	handle    api.ConnHandle
	role      Role
	desc      *descriptor.Connection
	pool      *pool.Pool
	txCB      api.TxCallback
	rxCB      api.RxCallback
	userParam any // Rx callback parameter, fixed at creation
	queue     *dispatch.Queue
	tx        api.TxBinding
	rx        api.RxBinding
	state     atomic.Int32
	pending   sync.WaitGroup // in-flight Tx payloads

	reasmMu sync.Mutex
	reasm   map[uuid.UUID]*reassembly

	eng *Engine
}

// Handle returns the connection's registry handle.
func (c *Connection) Handle() api.ConnHandle { return c.handle }

func (c *Connection) active() bool { return c.state.Load() == connActive }

// CreateTx registers a transmitter flow. The negotiated connection
// document is encoded into retJSON; the returned int is the number of
// bytes written. If retJSON cannot hold it the call fails with
// BufferTooSmall and performs no registration.
func (e *Engine) CreateTx(cfgJSON []byte, bufferSize uint64, bufferCount uint32,
	cb api.TxCallback, retJSON []byte) (api.ConnHandle, int, error) {
	if !e.running() {
		return 0, 0, api.ErrEngineShutdown
	}
	if cb == nil || bufferSize == 0 || bufferCount == 0 {
		return 0, 0, api.ErrInvalidParameter
	}
	if e.opts.Bindings.NewTx == nil {
		return 0, 0, api.ErrInvalidParameter.WithContext("reason", "no tx binding factory")
	}
	desc, err := descriptor.ParseConnection(cfgJSON, true)
	if err != nil {
		return 0, 0, err
	}
	n, err := desc.EncodeTo(retJSON)
	if err != nil {
		return 0, 0, err
	}
	binding, err := e.opts.Bindings.NewTx(desc)
	if err != nil {
		return 0, 0, api.NewError(api.StatusError, err.Error())
	}
	conn := &Connection{
		role:  RoleTx,
		desc:  desc,
		txCB:  cb,
		queue: e.disp.NewQueue(),
		tx:    binding,
		eng:   e,
	}
	// The pool must exist before the handle resolves: a concurrent
	// Shutdown may reach the connection the moment it is published.
	conn.handle = e.reg.reserve()
	conn.pool = pool.New(conn.handle, int(bufferSize), int(bufferCount))
	e.reg.commit(conn.handle, conn)
	log.Infof("tx connection %v created (media=%d buffers=%dx%d)",
		conn.handle, len(desc.Media), bufferCount, bufferSize)
	return conn.handle, n, nil
}

// CreateRx registers a receiver flow. userParam is handed back unmodified
// in every Rx event. Output-buffer semantics match CreateTx.
func (e *Engine) CreateRx(cfgJSON []byte, bufferSize uint64, bufferCount uint32,
	cb api.RxCallback, userParam any, retJSON []byte) (api.ConnHandle, int, error) {
	if !e.running() {
		return 0, 0, api.ErrEngineShutdown
	}
	if cb == nil || bufferSize == 0 || bufferCount == 0 {
		return 0, 0, api.ErrInvalidParameter
	}
	if e.opts.Bindings.NewRx == nil {
		return 0, 0, api.ErrInvalidParameter.WithContext("reason", "no rx binding factory")
	}
	desc, err := descriptor.ParseConnection(cfgJSON, false)
	if err != nil {
		return 0, 0, err
	}
	n, err := desc.EncodeTo(retJSON)
	if err != nil {
		return 0, 0, err
	}
	binding, err := e.opts.Bindings.NewRx(desc)
	if err != nil {
		return 0, 0, api.NewError(api.StatusError, err.Error())
	}
	conn := &Connection{
		role:      RoleRx,
		desc:      desc,
		rxCB:      cb,
		userParam: userParam,
		queue:     e.disp.NewQueue(),
		rx:        binding,
		reasm:     make(map[uuid.UUID]*reassembly),
		eng:       e,
	}
	conn.handle = e.reg.reserve()
	conn.pool = pool.New(conn.handle, int(bufferSize), int(bufferCount))
	if err := binding.Start(&rxSink{conn: conn}); err != nil {
		e.reg.abort(conn.handle)
		_ = binding.Close()
		return 0, 0, api.NewError(api.StatusError, err.Error())
	}
	// Publish only once the binding is live and the pool exists.
	e.reg.commit(conn.handle, conn)
	log.Infof("rx connection %v created (media=%d buffers=%dx%d)",
		conn.handle, len(desc.Media), bufferCount, bufferSize)
	return conn.handle, n, nil
}

// Destroy tears down a connection. It transitions Active -> Draining,
// rejects new submissions, waits for every in-flight Tx payload to reach
// a terminal state and for in-flight callback dispatches to complete,
// then releases the pool and retires the handle. This is the one
// deliberately blocking operation of the engine.
func (e *Engine) Destroy(h api.ConnHandle) error {
	if !e.running() {
		return api.ErrEngineShutdown
	}
	return e.destroy(h)
}

func (e *Engine) destroy(h api.ConnHandle) error {
	conn, err := e.reg.lookup(h)
	if err != nil {
		return err
	}
	if !conn.state.CompareAndSwap(connActive, connDraining) {
		// Concurrent or repeated destroy.
		return api.ErrInvalidParameter.WithContext("reason", "connection already destroying")
	}
	// Closing the bindings forces every outstanding request to a terminal
	// completion, which resolves the pending waitgroup below.
	if conn.tx != nil {
		if cerr := conn.tx.Close(); cerr != nil {
			log.Warnf("destroy %v: tx binding close: %v", h, cerr)
		}
	}
	if conn.rx != nil {
		if cerr := conn.rx.Close(); cerr != nil {
			log.Warnf("destroy %v: rx binding close: %v", h, cerr)
		}
		conn.discardReassemblies()
	}
	if e.disp.PollMode() {
		// No monitor goroutine exists in poll mode, so a deadline armed
		// for a payload the binding failed to complete on Close would
		// never fire. Drive expiry here until every payload settles.
		e.expirePending(&conn.pending)
	} else {
		conn.pending.Wait()
	}
	if e.disp.PollMode() {
		// No thread is left to deliver queued notifications; drop them.
		if n := conn.queue.CloseAndDiscard(); n > 0 {
			e.stats.Discarded.Add(int64(n))
		}
	} else {
		conn.queue.CloseAndWait()
	}
	conn.pool.Reclaim()
	conn.state.Store(connDestroyed)
	if rerr := e.reg.remove(h); rerr != nil {
		return rerr
	}
	log.Infof("%s connection %v destroyed", conn.role, h)
	return nil
}

// expirePending drives deadline expiry on the caller's thread until every
// in-flight payload of the draining connection resolves. It returns no
// later than the latest armed deadline.
func (e *Engine) expirePending(wg *sync.WaitGroup) {
	settled := make(chan struct{})
	go func() {
		wg.Wait()
		close(settled)
	}()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-settled:
			return
		case <-timer.C:
		}
		wait := sweepInterval
		if next := e.monitor.expireDue(time.Now()); next >= 0 && next < wait {
			wait = next
		}
		timer.Reset(wait)
	}
}

// RequestBuffer checks out one transmit buffer from the connection's
// pool. An empty pool yields ErrNoBufferAvailable; the call never blocks.
func (e *Engine) RequestBuffer(h api.ConnHandle) (*api.Buffer, error) {
	conn, err := e.txConnection(h)
	if err != nil {
		return nil, err
	}
	return conn.pool.Request()
}

// RequestBufferSegments atomically checks out all eight segment slots as
// one segmented payload unit. Fewer than eight free slots fails the whole
// request; no partial reservation is made.
func (e *Engine) RequestBufferSegments(h api.ConnHandle) (*api.BufferSegments, error) {
	conn, err := e.txConnection(h)
	if err != nil {
		return nil, err
	}
	return conn.pool.RequestSegments()
}

// RxFreeBuffer returns a received buffer to its connection's pool. Legal
// from inside the Rx callback or any other thread, at any later time.
func (e *Engine) RxFreeBuffer(buf *api.Buffer) error {
	if buf == nil {
		return api.ErrInvalidParameter
	}
	conn, err := e.reg.lookup(buf.Conn)
	if err != nil {
		return err
	}
	return conn.pool.Release(buf)
}

// RxFreeBufferSegments returns a received segmented payload to its pool.
func (e *Engine) RxFreeBufferSegments(segs *api.BufferSegments) error {
	if segs == nil {
		return api.ErrInvalidParameter
	}
	conn, err := e.reg.lookup(segs.Segments[0].Conn)
	if err != nil {
		return err
	}
	return conn.pool.ReleaseSegments(segs)
}

func (e *Engine) txConnection(h api.ConnHandle) (*Connection, error) {
	if !e.running() {
		return nil, api.ErrEngineShutdown
	}
	conn, err := e.reg.lookup(h)
	if err != nil {
		return nil, err
	}
	if conn.role != RoleTx {
		return nil, api.ErrWrongRole
	}
	if !conn.active() {
		return nil, api.ErrConnectionDraining
	}
	return conn, nil
}
