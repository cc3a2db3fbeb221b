// File: engine/rx.go
// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Rx payload receiver. Bindings deliver fragments through the RxSink;
// the engine binds them into pool buffers and enqueues receipt
// notifications. Segmented payloads are collected per payload id until a
// gap-free prefix up to the final segment is present; stalled or gapped
// sets are rejected as malformed. When the pool has no free buffer the
// inbound payload is dropped and reported as an Error receipt: late media
// is worthless, so backpressure is surfaced rather than buffered.

package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/momentics/gccg-transport/api"
	"github.com/momentics/gccg-transport/descriptor"
	"github.com/momentics/gccg-transport/log"
)

// rxSink adapts a connection to the api.RxSink contract.
type rxSink struct {
	conn *Connection
}

func (s *rxSink) OnSegment(seg *api.RxSegment) {
	s.conn.eng.onSegment(s.conn, seg)
}

// reassembly collects the segments of one in-flight payload.
type reassembly struct {
	segs     *api.BufferSegments
	received uint16 // bitmask of arrived segment indexes
	finalIdx int8   // -1 until the final segment is seen
	cfg      []byte
	expires  time.Time
	dropped  bool // tombstone: pool was exhausted or the set was rejected
}

func (c *Connection) reassemblyWindow() time.Duration {
	// Twice the flow's latency bound, floored at one second.
	w := 2 * time.Duration(c.desc.Timing.LatencyBoundUs) * time.Microsecond
	if w < time.Second {
		w = time.Second
	}
	return w
}

func (e *Engine) onSegment(conn *Connection, seg *api.RxSegment) {
	if conn.role != RoleRx || !conn.active() || seg == nil {
		return
	}
	if !seg.Segmented {
		e.deliverSingle(conn, seg)
		return
	}
	e.collectSegment(conn, seg)
}

func (e *Engine) deliverSingle(conn *Connection, seg *api.RxSegment) {
	if err := e.checkPayloadConfig(conn, seg.ConfigJSON); err != nil {
		e.rejectRx(conn, "malformed payload config: %v", err)
		return
	}
	buf, err := conn.pool.Request()
	if err != nil {
		e.dropRx(conn, "rx %v: pool exhausted, payload dropped", seg.PayloadID)
		return
	}
	if len(seg.Data) > len(buf.Data) {
		_ = conn.pool.Release(buf)
		e.rejectRx(conn, "rx %v: payload exceeds buffer size", seg.PayloadID)
		return
	}
	n := copy(buf.Data, seg.Data)
	buf.Data = buf.Data[:n]
	if !seg.Origination.IsZero() {
		buf.Origination = seg.Origination
	}
	e.deliverRx(conn, &api.RxEvent{
		Status:      api.StatusOk,
		Conn:        conn.handle,
		PayloadJSON: seg.ConfigJSON,
		Buffer:      buf,
		MediaCount:  len(conn.desc.Media),
		UserParam:   conn.userParam,
	})
}

func (e *Engine) collectSegment(conn *Connection, seg *api.RxSegment) {
	if seg.Index >= api.NumSegments {
		e.rejectRx(conn, "rx %v: segment index %d out of range", seg.PayloadID, seg.Index)
		return
	}
	conn.reasmMu.Lock()
	r, ok := conn.reasm[seg.PayloadID]
	if !ok {
		segs, err := conn.pool.RequestSegments()
		if err != nil {
			// Tombstone the payload id so later fragments of the same
			// payload do not produce further drop notifications.
			conn.reasm[seg.PayloadID] = &reassembly{
				dropped: true,
				expires: time.Now().Add(conn.reassemblyWindow()),
			}
			conn.reasmMu.Unlock()
			e.dropRx(conn, "rx %v: pool exhausted, segmented payload dropped", seg.PayloadID)
			return
		}
		r = &reassembly{
			segs:     segs,
			finalIdx: -1,
			expires:  time.Now().Add(conn.reassemblyWindow()),
		}
		conn.reasm[seg.PayloadID] = r
	}
	if r.dropped {
		conn.reasmMu.Unlock()
		return
	}
	slot := &r.segs.Segments[seg.Index]
	capacity := cap(slot.Data)
	if len(seg.Data) > capacity {
		e.abandonLocked(conn, seg.PayloadID, r)
		conn.reasmMu.Unlock()
		e.rejectRx(conn, "rx %v: segment %d exceeds slot size", seg.PayloadID, seg.Index)
		return
	}
	bit := uint16(1) << seg.Index
	if r.received&bit == 0 {
		n := copy(slot.Data[:capacity], seg.Data)
		slot.Data = slot.Data[:n]
		r.received |= bit
	}
	if seg.Final {
		r.finalIdx = int8(seg.Index)
	}
	if len(seg.ConfigJSON) > 0 {
		r.cfg = seg.ConfigJSON
	}
	if r.finalIdx < 0 {
		conn.reasmMu.Unlock()
		return
	}
	// Complete only on gap-free coverage 0..finalIdx; segments beyond the
	// final index make the set malformed.
	want := uint16(1)<<(uint8(r.finalIdx)+1) - 1
	if r.received&^want != 0 {
		e.abandonLocked(conn, seg.PayloadID, r)
		conn.reasmMu.Unlock()
		e.rejectRx(conn, "rx %v: segment beyond final index", seg.PayloadID)
		return
	}
	if r.received != want {
		conn.reasmMu.Unlock()
		return // gaps remain; wait for out-of-order arrivals
	}
	delete(conn.reasm, seg.PayloadID)
	segs := r.segs
	cfg := r.cfg
	conn.reasmMu.Unlock()

	// Zero out the unused tail so the event exposes only received spans.
	for i := int(r.finalIdx) + 1; i < api.NumSegments; i++ {
		segs.Segments[i].Data = segs.Segments[i].Data[:0]
	}
	if err := e.checkPayloadConfig(conn, cfg); err != nil {
		if rerr := conn.pool.ReleaseSegments(segs); rerr != nil {
			log.Warnf("rx %v: release rejected segments: %v", conn.handle, rerr)
		}
		e.rejectRx(conn, "malformed payload config: %v", err)
		return
	}
	e.deliverRx(conn, &api.RxEvent{
		Status:      api.StatusOk,
		Conn:        conn.handle,
		PayloadJSON: cfg,
		Segments:    segs,
		MediaCount:  len(conn.desc.Media),
		UserParam:   conn.userParam,
	})
}

// abandonLocked releases a reassembly's buffers and leaves a tombstone.
// Caller holds conn.reasmMu.
func (e *Engine) abandonLocked(conn *Connection, id uuid.UUID, r *reassembly) {
	if r.segs != nil {
		if err := conn.pool.ReleaseSegments(r.segs); err != nil {
			log.Warnf("rx %v: release abandoned segments: %v", conn.handle, err)
		}
		r.segs = nil
	}
	r.dropped = true
	conn.reasm[id] = r
}

// sweepConn expires stalled reassemblies and clears old tombstones.
func (e *Engine) sweepConn(conn *Connection, now time.Time) {
	type expired struct {
		id uuid.UUID
		r  *reassembly
	}
	var stale []expired
	conn.reasmMu.Lock()
	for id, r := range conn.reasm {
		if now.After(r.expires) {
			delete(conn.reasm, id)
			if !r.dropped {
				stale = append(stale, expired{id, r})
			}
		}
	}
	for _, s := range stale {
		if s.r.segs != nil {
			if err := conn.pool.ReleaseSegments(s.r.segs); err != nil {
				log.Warnf("rx %v: release stalled segments: %v", conn.handle, err)
			}
		}
	}
	conn.reasmMu.Unlock()
	for _, s := range stale {
		e.rejectRx(conn, "rx %v: incomplete segment set timed out", s.id)
	}
}

// discardReassemblies drops every incomplete segment set at teardown.
func (c *Connection) discardReassemblies() {
	c.reasmMu.Lock()
	defer c.reasmMu.Unlock()
	for id, r := range c.reasm {
		if r.segs != nil {
			if err := c.pool.ReleaseSegments(r.segs); err != nil {
				log.Warnf("rx %v: release segments at teardown: %v", c.handle, err)
			}
		}
		delete(c.reasm, id)
	}
}

func (e *Engine) checkPayloadConfig(conn *Connection, cfg []byte) error {
	_, err := descriptor.ParsePayload(cfg, conn.desc)
	return err
}

// dropRx reports a backpressure drop through the Rx callback.
func (e *Engine) dropRx(conn *Connection, format string, args ...any) {
	e.stats.RxDropped.Add(1)
	log.Warnf(format, args...)
	e.errorRx(conn)
}

// rejectRx reports a malformed payload through the Rx callback.
func (e *Engine) rejectRx(conn *Connection, format string, args ...any) {
	e.stats.RxMalformed.Add(1)
	log.Warnf(format, args...)
	e.errorRx(conn)
}

func (e *Engine) errorRx(conn *Connection) {
	ev := &api.RxEvent{
		Status:     api.StatusError,
		Conn:       conn.handle,
		MediaCount: len(conn.desc.Media),
		UserParam:  conn.userParam,
	}
	e.disp.Enqueue(conn.queue, func() {
		conn.rxCB(ev)
		e.stats.Dispatched.Add(1)
	})
}

func (e *Engine) deliverRx(conn *Connection, ev *api.RxEvent) {
	e.stats.RxDelivered.Add(1)
	e.disp.Enqueue(conn.queue, func() {
		conn.rxCB(ev)
		e.stats.Dispatched.Add(1)
	})
}
