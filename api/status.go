// File: api/status.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Status is the universal result vocabulary of the engine. Every
// synchronous return and every asynchronous callback outcome maps onto one
// of these five values.

package api

// Status enumerates engine operation results.
type Status int

const (
	// StatusOk reports success.
	StatusOk Status = iota
	// StatusTimeoutExpired reports that a payload deadline elapsed before
	// the transport acknowledged delivery. Delivered through the Tx
	// callback only.
	StatusTimeoutExpired
	// StatusInvalidParameter reports a malformed or foreign handle, a bad
	// role, bad buffer ownership or a non-positive timeout. Always detected
	// synchronously.
	StatusInvalidParameter
	// StatusBufferTooSmall reports that a caller-supplied output buffer
	// cannot hold the negotiated descriptor. All-or-nothing: no partial
	// write is performed.
	StatusBufferTooSmall
	// StatusError reports a transport-level or resource-exhaustion failure.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusTimeoutExpired:
		return "timeout expired"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusBufferTooSmall:
		return "buffer too small"
	case StatusError:
		return "error"
	}
	return "unknown"
}
