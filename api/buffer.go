// File: api/buffer.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool-owned payload buffers. A buffer is owned by exactly one side at any
// point in time: the pool (free), the application (checked out), or the
// wire binding (in flight). The BufferHandle is a stable pool slot index,
// not a pointer; it stays valid for the checkout lifetime of the buffer.

package api

// NumSegments is the fixed number of segment slots in a segmented payload.
const NumSegments = 8

// ConnHandle identifies a registered connection. Handles combine an arena
// index with a generation counter so a destroyed handle is never reused.
type ConnHandle uint64

// BufferHandle is the pool slot index of a buffer.
type BufferHandle uint32

// Buffer describes one checked-out memory region of a connection's pool.
//
// Data is the writable (Tx) or readable (Rx) span. Applications shrink
// Data to the actual payload length before submitting with TxPayload;
// capacity is restored when the slot returns to the pool.
type Buffer struct {
	// Data is the payload span backed by pool memory.
	Data []byte
	// IsSegment is set when the buffer is one segment of a segmented
	// payload rather than a contiguous element.
	IsSegment bool
	// SegmentIndex is the segment position 0..7 within the payload.
	SegmentIndex uint8
	// Origination is the timestamp applied to the buffer.
	Origination Timestamp
	// Conn is the handle of the owning connection.
	Conn ConnHandle
	// Handle is the pool slot index managed by the engine.
	Handle BufferHandle
}

// BufferSegments groups up to NumSegments buffers into one logical
// payload. Unused slots carry a zero-length Data span.
type BufferSegments struct {
	Segments [NumSegments]Buffer
}

// TotalBytes returns the aggregate payload size across used segments.
func (s *BufferSegments) TotalBytes() int {
	total := 0
	for i := range s.Segments {
		total += len(s.Segments[i].Data)
	}
	return total
}

// Used returns the number of segments carrying data.
func (s *BufferSegments) Used() int {
	n := 0
	for i := range s.Segments {
		if len(s.Segments[i].Data) > 0 {
			n++
		}
	}
	return n
}
