// File: pool/pool.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-slot buffer pool owned by a single connection. The pool
// pre-allocates bufferCount regions of slotSize bytes at creation and
// never resizes. Checkout pops from a LIFO free list in O(1); Request
// never blocks: an empty pool is a backpressure outcome the caller
// handles by retrying or dropping the payload.

package pool

import (
	"sync"

	"github.com/momentics/gccg-transport/api"
)

type slotState uint8

const (
	slotFree slotState = iota
	slotCheckedOut
	slotGrouped         // checked out as part of a segment group
	slotInFlight        // handed to the engine for transmission
	slotGroupedInFlight // group handed to the engine for transmission
)

type slot struct {
	data  []byte
	state slotState
}

// Pool arbitrates checkout and return of a connection's buffers.
// Safe for concurrent use from application threads and dispatcher threads.
type Pool struct {
	mu       sync.Mutex
	conn     api.ConnHandle
	slotSize int
	slots    []slot
	free     []uint32 // LIFO free list of slot indexes
}

// New allocates a pool of count slots of size bytes each.
func New(conn api.ConnHandle, size int, count int) *Pool {
	p := &Pool{
		conn:     conn,
		slotSize: size,
		slots:    make([]slot, count),
		free:     make([]uint32, 0, count),
	}
	slab := make([]byte, size*count)
	for i := range p.slots {
		p.slots[i].data = slab[i*size : (i+1)*size : (i+1)*size]
	}
	// Push in reverse so slot 0 is handed out first.
	for i := count - 1; i >= 0; i-- {
		p.free = append(p.free, uint32(i))
	}
	return p
}

// Capacity returns the fixed slot count.
func (p *Pool) Capacity() int { return len(p.slots) }

// SlotSize returns the fixed size of each slot in bytes.
func (p *Pool) SlotSize() int { return p.slotSize }

// Outstanding returns the number of currently checked-out slots.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}

// Request checks out one buffer. Returns api.ErrNoBufferAvailable when the
// free list is empty.
func (p *Pool) Request() (*api.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, api.ErrNoBufferAvailable
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.slots[idx].state = slotCheckedOut
	return &api.Buffer{
		Data:        p.slots[idx].data[:p.slotSize],
		Origination: api.Now(),
		Conn:        p.conn,
		Handle:      api.BufferHandle(idx),
	}, nil
}

// RequestSegments atomically checks out api.NumSegments slots as one
// segmented unit. If fewer slots are free the request fails as a whole;
// no partial reservation is made.
func (p *Pool) RequestSegments() (*api.BufferSegments, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < api.NumSegments {
		return nil, api.ErrNoBufferAvailable
	}
	segs := &api.BufferSegments{}
	now := api.Now()
	for i := 0; i < api.NumSegments; i++ {
		idx := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.slots[idx].state = slotGrouped
		segs.Segments[i] = api.Buffer{
			Data:         p.slots[idx].data[:p.slotSize],
			IsSegment:    true,
			SegmentIndex: uint8(i),
			Origination:  now,
			Conn:         p.conn,
			Handle:       api.BufferHandle(idx),
		}
	}
	return segs, nil
}

// Acquire transitions a checked-out buffer to the in-flight state for the
// duration of a transmission. A buffer that is already in flight fails,
// which is what rejects a second submission of the same buffer.
func (p *Pool) Acquire(b *api.Buffer) error {
	if b == nil || b.Conn != p.conn {
		return api.ErrForeignBuffer
	}
	idx := uint32(b.Handle)
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(idx) >= len(p.slots) {
		return api.ErrForeignBuffer
	}
	if p.slots[idx].state != slotCheckedOut {
		return api.ErrBufferNotCheckedOut
	}
	p.slots[idx].state = slotInFlight
	return nil
}

// AcquireSegments transitions a whole group to the in-flight state.
func (p *Pool) AcquireSegments(s *api.BufferSegments) error {
	if s == nil {
		return api.ErrInvalidParameter
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range s.Segments {
		b := &s.Segments[i]
		if b.Conn != p.conn {
			return api.ErrForeignBuffer
		}
		idx := uint32(b.Handle)
		if int(idx) >= len(p.slots) || p.slots[idx].state != slotGrouped {
			return api.ErrBufferNotCheckedOut
		}
	}
	for i := range s.Segments {
		p.slots[uint32(s.Segments[i].Handle)].state = slotGroupedInFlight
	}
	return nil
}

// Restore hands an in-flight buffer back to the application after a
// synchronous submission failure.
func (p *Pool) Restore(b *api.Buffer) error {
	if b == nil || b.Conn != p.conn {
		return api.ErrForeignBuffer
	}
	idx := uint32(b.Handle)
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(idx) >= len(p.slots) {
		return api.ErrForeignBuffer
	}
	if p.slots[idx].state != slotInFlight {
		return api.ErrBufferNotCheckedOut
	}
	p.slots[idx].state = slotCheckedOut
	return nil
}

// RestoreSegments hands an in-flight group back to the application.
func (p *Pool) RestoreSegments(s *api.BufferSegments) error {
	if s == nil {
		return api.ErrInvalidParameter
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range s.Segments {
		b := &s.Segments[i]
		if b.Conn != p.conn {
			return api.ErrForeignBuffer
		}
		idx := uint32(b.Handle)
		if int(idx) >= len(p.slots) || p.slots[idx].state != slotGroupedInFlight {
			return api.ErrBufferNotCheckedOut
		}
	}
	for i := range s.Segments {
		p.slots[uint32(s.Segments[i].Handle)].state = slotGrouped
	}
	return nil
}

// Release returns a single buffer to the free list, from the application's
// hands (checked out) or from the engine's terminal path (in flight).
// Foreign buffers, already-free slots and segment-group members signal
// InvalidParameter; grouped slots must be released through ReleaseSegments.
func (p *Pool) Release(b *api.Buffer) error {
	if b == nil || b.Conn != p.conn {
		return api.ErrForeignBuffer
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(uint32(b.Handle), slotCheckedOut, slotInFlight)
}

// ReleaseSegments returns a whole segment group to the free list, from the
// application's hands (grouped) or from the engine's terminal path (group
// in flight).
func (p *Pool) ReleaseSegments(s *api.BufferSegments) error {
	if s == nil {
		return api.ErrInvalidParameter
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// Validate the whole group before mutating anything.
	for i := range s.Segments {
		b := &s.Segments[i]
		if b.Conn != p.conn {
			return api.ErrForeignBuffer
		}
		idx := uint32(b.Handle)
		if int(idx) >= len(p.slots) {
			return api.ErrForeignBuffer
		}
		if st := p.slots[idx].state; st != slotGrouped && st != slotGroupedInFlight {
			return api.ErrBufferNotCheckedOut
		}
	}
	for i := range s.Segments {
		if err := p.releaseLocked(uint32(s.Segments[i].Handle), slotGrouped, slotGroupedInFlight); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) releaseLocked(idx uint32, want ...slotState) error {
	if int(idx) >= len(p.slots) {
		return api.ErrForeignBuffer
	}
	ok := false
	for _, w := range want {
		if p.slots[idx].state == w {
			ok = true
			break
		}
	}
	if !ok {
		return api.ErrBufferNotCheckedOut
	}
	p.slots[idx].state = slotFree
	p.free = append(p.free, idx)
	return nil
}

// Validate checks that a buffer belongs to this pool and is currently
// checked out (individually or as a group member).
func (p *Pool) Validate(b *api.Buffer) error {
	if b == nil || b.Conn != p.conn {
		return api.ErrForeignBuffer
	}
	idx := uint32(b.Handle)
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(idx) >= len(p.slots) {
		return api.ErrForeignBuffer
	}
	want := slotCheckedOut
	if b.IsSegment {
		want = slotGrouped
	}
	if p.slots[idx].state != want {
		return api.ErrBufferNotCheckedOut
	}
	return nil
}

// Reclaim force-frees every slot. Used at connection teardown after all
// in-flight payloads have resolved.
func (p *Pool) Reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = p.free[:0]
	for i := len(p.slots) - 1; i >= 0; i-- {
		p.slots[i].state = slotFree
		p.free = append(p.free, uint32(i))
	}
}
