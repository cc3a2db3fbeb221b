// File: api/transport.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire binding contracts. The engine treats the protocol underneath
// (cdi, rtp, tcp, ndi, srt, ...) as a black box behind these interfaces.
// Bindings move opaque byte spans; they never interpret payload contents.

package api

import "github.com/google/uuid"

// TxRequest hands one payload to a Tx binding.
//
// Segment spans reference pool memory and are only valid for the duration
// of the Send call: a binding that transmits asynchronously must copy (or
// finish serializing) the spans before Send returns.
type TxRequest struct {
	// PayloadID identifies the payload across the wire and in Cancel.
	PayloadID uuid.UUID
	// Segments are 1..NumSegments data spans transported verbatim.
	Segments [][]byte
	// ConfigJSON is the payload configuration document, carried with the
	// payload to the receiver.
	ConfigJSON []byte
	// Origination is the payload timestamp.
	Origination Timestamp
	// Complete reports the delivery outcome. It must be invoked exactly
	// once per payload that was not canceled; after Cancel a binding may
	// skip it. The engine resolves races between Complete and its own
	// deadline; late completions are discarded.
	Complete func(Status)
}

// TxBinding is the transmit side of a wire protocol.
type TxBinding interface {
	// Send accepts a payload for transmission. Errors detectable
	// immediately are returned synchronously and no Complete call is made;
	// otherwise delivery is reported through req.Complete.
	Send(req *TxRequest) error
	// Cancel abandons an in-flight payload after its deadline elapsed.
	// Best effort; a binding that cannot abort simply lets the late
	// completion be discarded by the engine.
	Cancel(id uuid.UUID)
	// Close releases the binding. Outstanding requests must be completed
	// terminally (StatusError) before Close returns.
	Close() error
}

// RxSegment is one inbound payload fragment delivered by an Rx binding.
// An unsegmented payload arrives as a single RxSegment with Segmented
// false, Index 0 and Final true.
type RxSegment struct {
	PayloadID   uuid.UUID
	Index       uint8
	Final       bool
	Segmented   bool
	ConfigJSON  []byte
	Origination Timestamp
	Data        []byte
}

// RxSink consumes inbound fragments. Implemented by the engine; OnSegment
// never blocks and never invokes application callbacks inline.
type RxSink interface {
	OnSegment(seg *RxSegment)
}

// RxBinding is the receive side of a wire protocol.
type RxBinding interface {
	// Start begins delivering inbound fragments to the sink.
	Start(sink RxSink) error
	// Close stops delivery and releases the binding.
	Close() error
}

// Executor abstracts the bounded worker pool used by the threaded dispatch
// strategy.
type Executor interface {
	// Submit schedules a task for execution.
	Submit(task func()) error
	// Close stops the executor after running already-submitted tasks.
	Close()
}
