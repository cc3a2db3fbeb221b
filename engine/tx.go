// File: engine/tx.go
// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tx payload scheduler. TxPayload is asynchronous: it validates, arms a
// deadline and hands the spans to the binding, then returns. Exactly one
// terminal notification (Ok, TimeoutExpired or Error) is produced per
// submitted payload; the first terminal writer wins and later events for
// the same payload are discarded. Completion order is not tied to
// submission order.

package engine

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/gccg-transport/api"
	"github.com/momentics/gccg-transport/descriptor"
	"github.com/momentics/gccg-transport/log"
)

// pendingTx tracks one submitted payload until its terminal state.
type pendingTx struct {
	id        uuid.UUID
	conn      *Connection
	buf       *api.Buffer
	segs      *api.BufferSegments
	userParam any
	deadline  time.Time
	heapIndex int // -1 when not armed
	terminal  atomic.Bool
	bufState  atomic.Int32
}

// Buffer ownership around Send: the spans stay pinned while the binding is
// inside Send, so a terminal state reached in that window must not return
// the slots to the pool yet. The terminal writer and the submitting
// goroutine race on bufState; whoever loses performs the release.
const (
	bufInSend          int32 = iota // Send in progress, spans pinned
	bufSendDone                     // Send returned, terminal writer releases
	bufReleaseDeferred              // terminal reached during Send, submit releases
)

// TxPayload submits one contiguous buffer for transmission.
//
// payloadJSON is the optional payload configuration document; it may
// override informational attributes but must mirror the connection's
// media element count and order. timeoutMicros must be positive; if the
// deadline elapses before the transport acknowledges, transmission is
// abandoned and the callback reports TimeoutExpired.
//
// The buffer is owned by the engine from this call on and returns to the
// pool at the terminal notification, though never while the binding still
// holds the spans inside Send.
func (e *Engine) TxPayload(h api.ConnHandle, buf *api.Buffer, payloadJSON []byte,
	userParam any, timeoutMicros int64) error {
	conn, err := e.txConnection(h)
	if err != nil {
		return err
	}
	if buf == nil || buf.IsSegment {
		return api.ErrInvalidParameter.WithContext("reason", "segment buffers require TxPayloadSegments")
	}
	spans := [][]byte{buf.Data}
	return e.submit(conn, &pendingTx{buf: buf, userParam: userParam}, spans, buf.Origination, payloadJSON, timeoutMicros)
}

// TxPayloadSegments submits a segmented payload. Used segments must form
// a gap-free prefix of the segment set; unused segments carry zero-length
// spans and are not transmitted.
func (e *Engine) TxPayloadSegments(h api.ConnHandle, segs *api.BufferSegments, payloadJSON []byte,
	userParam any, timeoutMicros int64) error {
	conn, err := e.txConnection(h)
	if err != nil {
		return err
	}
	if segs == nil || segs.Used() == 0 {
		return api.ErrInvalidParameter.WithContext("reason", "empty segment set")
	}
	var spans [][]byte
	var origin api.Timestamp
	for i := range segs.Segments {
		b := &segs.Segments[i]
		if len(b.Data) == 0 {
			continue
		}
		if int(b.SegmentIndex) != len(spans) {
			return api.ErrInvalidParameter.WithContext("reason", "used segments must form a gap-free prefix")
		}
		if err := conn.pool.Validate(b); err != nil {
			return err
		}
		spans = append(spans, b.Data)
		origin = b.Origination
	}
	return e.submit(conn, &pendingTx{segs: segs, userParam: userParam}, spans, origin, payloadJSON, timeoutMicros)
}

func (e *Engine) submit(conn *Connection, pend *pendingTx, spans [][]byte,
	origin api.Timestamp, payloadJSON []byte, timeoutMicros int64) error {
	if timeoutMicros <= 0 {
		return api.ErrInvalidParameter.WithContext("timeout_microsecs", timeoutMicros)
	}
	if err := e.payloadConfig(conn, &payloadJSON); err != nil {
		return err
	}
	// Take engine ownership of the slots. A buffer that is already in
	// flight fails here, which rejects a duplicate submission of the same
	// buffer before it reaches the binding.
	if pend.buf != nil {
		if err := conn.pool.Acquire(pend.buf); err != nil {
			return err
		}
	} else {
		if err := conn.pool.AcquireSegments(pend.segs); err != nil {
			return err
		}
	}
	pend.id = uuid.New()
	pend.conn = conn
	pend.deadline = time.Now().Add(time.Duration(timeoutMicros) * time.Microsecond)
	pend.heapIndex = -1

	conn.pending.Add(1)
	e.monitor.arm(pend)
	req := &api.TxRequest{
		PayloadID:   pend.id,
		Segments:    spans,
		ConfigJSON:  payloadJSON,
		Origination: origin,
		Complete:    func(st api.Status) { e.finishTx(pend, st) },
	}
	e.stats.PayloadsSubmitted.Add(1)
	err := conn.tx.Send(req)
	if !pend.bufState.CompareAndSwap(bufInSend, bufSendDone) {
		// A terminal state was reached while Send pinned the spans; the
		// terminal writer left the pool release to us.
		e.releaseBuffers(pend)
	}
	if err != nil {
		// Synchronous rejection: no callback will ever fire for this
		// payload, so undo the bookkeeping and hand the buffer back to
		// the caller, unless the payload already resolved terminally.
		if pend.terminal.CompareAndSwap(false, true) {
			e.monitor.disarm(pend)
			e.restoreBuffers(pend)
			conn.pending.Done()
		}
		return api.NewError(api.StatusError, err.Error())
	}
	return nil
}

// finishTx resolves a payload from the binding's completion path.
func (e *Engine) finishTx(pend *pendingTx, st api.Status) {
	if !pend.terminal.CompareAndSwap(false, true) {
		return // deadline already won; discard the late completion
	}
	e.monitor.disarm(pend)
	e.terminate(pend, st)
}

// expireTx resolves a payload from the timeout monitor. The monitor has
// already removed the entry from its heap.
func (e *Engine) expireTx(pend *pendingTx) {
	if !pend.terminal.CompareAndSwap(false, true) {
		return // the transport completion won the race
	}
	pend.conn.tx.Cancel(pend.id)
	e.terminate(pend, api.StatusTimeoutExpired)
}

// terminate releases the payload's buffers, enqueues the single terminal
// notification and retires the pending entry.
func (e *Engine) terminate(pend *pendingTx, st api.Status) {
	conn := pend.conn
	if !pend.bufState.CompareAndSwap(bufInSend, bufReleaseDeferred) {
		// Send has returned; the spans are no longer pinned and the slots
		// can go back to the pool here. Otherwise the binding may still be
		// reading them and the submitting goroutine releases after Send.
		e.releaseBuffers(pend)
	}
	switch st {
	case api.StatusOk:
		e.stats.PayloadsDelivered.Add(1)
	case api.StatusTimeoutExpired:
		e.stats.PayloadsTimedOut.Add(1)
	default:
		e.stats.PayloadsFailed.Add(1)
	}
	ev := &api.TxEvent{
		Status:     st,
		Conn:       conn.handle,
		MediaCount: len(conn.desc.Media),
		UserParam:  pend.userParam,
	}
	e.disp.Enqueue(conn.queue, func() {
		conn.txCB(ev)
		e.stats.Dispatched.Add(1)
	})
	conn.pending.Done()
}

// releaseBuffers returns a resolved payload's slots to the pool.
func (e *Engine) releaseBuffers(pend *pendingTx) {
	conn := pend.conn
	if pend.buf != nil {
		if err := conn.pool.Release(pend.buf); err != nil {
			log.Warnf("tx %v: release buffer: %v", conn.handle, err)
		}
	}
	if pend.segs != nil {
		if err := conn.pool.ReleaseSegments(pend.segs); err != nil {
			log.Warnf("tx %v: release segments: %v", conn.handle, err)
		}
	}
}

// restoreBuffers hands a rejected payload's slots back to the caller.
func (e *Engine) restoreBuffers(pend *pendingTx) {
	conn := pend.conn
	if pend.buf != nil {
		if err := conn.pool.Restore(pend.buf); err != nil {
			log.Warnf("tx %v: restore buffer: %v", conn.handle, err)
		}
	}
	if pend.segs != nil {
		if err := conn.pool.RestoreSegments(pend.segs); err != nil {
			log.Warnf("tx %v: restore segments: %v", conn.handle, err)
		}
	}
}

// payloadConfig validates the payload document against the connection and
// synthesizes a mirror document when the caller supplied none, so the
// receiver always observes the connection's media layout.
func (e *Engine) payloadConfig(conn *Connection, payloadJSON *[]byte) error {
	p, err := descriptor.ParsePayload(*payloadJSON, conn.desc)
	if err != nil {
		return err
	}
	if len(*payloadJSON) == 0 {
		out, merr := json.Marshal(p)
		if merr != nil {
			return api.NewError(api.StatusError, merr.Error())
		}
		*payloadJSON = out
	}
	return nil
}
