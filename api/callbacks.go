// File: api/callbacks.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Callback event types. The engine guarantees that for a given connection
// at most one callback invocation is in flight at any time, so application
// callbacks do not need their own locking against themselves. In poll mode
// callbacks run on the thread calling Engine.PollEvents.

package api

// TxEvent is passed to the Tx callback when a payload reaches a terminal
// state. Exactly one TxEvent is delivered per submitted payload.
type TxEvent struct {
	// Status is the terminal payload outcome: StatusOk, StatusTimeoutExpired
	// or StatusError.
	Status Status
	// Conn is the connection the payload was submitted on.
	Conn ConnHandle
	// MediaCount is the number of media elements declared by the
	// connection descriptor.
	MediaCount int
	// UserParam is the value given to TxPayload, unmodified.
	UserParam any
}

// RxEvent is passed to the Rx callback when a complete payload has been
// received, or when an inbound payload had to be dropped. The application
// must return the buffer with Engine.RxFreeBuffer (or RxFreeBufferSegments)
// once it is done with it; that may happen inside the callback or later.
type RxEvent struct {
	// Status is StatusOk for a delivered payload, StatusError for a drop.
	Status Status
	// Conn is the receiving connection.
	Conn ConnHandle
	// PayloadJSON is the payload configuration document received with the
	// payload. Nil when Status is not StatusOk.
	PayloadJSON []byte
	// Buffer holds the payload data for an unsegmented payload.
	Buffer *Buffer
	// Segments holds the payload data for a segmented payload. Exactly one
	// of Buffer and Segments is non-nil when Status is StatusOk.
	Segments *BufferSegments
	// MediaCount is the number of media elements declared by the
	// connection descriptor.
	MediaCount int
	// UserParam is the value registered at connection creation, unmodified.
	UserParam any
}

// TxCallback is invoked when a payload transmission reaches a terminal
// state.
type TxCallback func(ev *TxEvent)

// RxCallback is invoked when a complete payload has been received.
type RxCallback func(ev *RxEvent)
