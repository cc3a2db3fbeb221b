// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured errors carrying a Status code plus free-form context.
// Public operations return error; nil means StatusOk. StatusOf recovers
// the closed status vocabulary from any error value.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the engine.
var (
	ErrInvalidParameter    = &Error{Code: StatusInvalidParameter, Message: "invalid parameter"}
	ErrBufferTooSmall      = &Error{Code: StatusBufferTooSmall, Message: "output buffer too small"}
	ErrTimeoutExpired      = &Error{Code: StatusTimeoutExpired, Message: "operation timeout expired"}
	ErrUnknownHandle       = &Error{Code: StatusInvalidParameter, Message: "unknown or stale connection handle"}
	ErrWrongRole           = &Error{Code: StatusInvalidParameter, Message: "operation not valid for connection role"}
	ErrForeignBuffer       = &Error{Code: StatusInvalidParameter, Message: "buffer does not belong to this connection"}
	ErrBufferNotCheckedOut = &Error{Code: StatusInvalidParameter, Message: "buffer is not checked out"}
	ErrConnectionDraining  = &Error{Code: StatusError, Message: "connection is draining"}
	ErrEngineShutdown      = &Error{Code: StatusInvalidParameter, Message: "engine has been shut down"}
	ErrTransportClosed     = &Error{Code: StatusError, Message: "transport binding is closed"}
	ErrPollModeOnly        = &Error{Code: StatusInvalidParameter, Message: "poll is only valid in poll mode"}

	// ErrNoBufferAvailable reports an empty pool. This is a backpressure
	// outcome, not a failure: the caller retries or drops the payload.
	ErrNoBufferAvailable = &Error{Code: StatusError, Message: "no buffer available"}
)

// Error is a structured error with a status code and optional context.
type Error struct {
	Code    Status
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports equality by status code and message so that wrapped copies of
// the package sentinels still match errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewError creates a new structured error.
func NewError(code Status, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithContext returns a copy of the error with one context entry added.
func (e *Error) WithContext(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Error{Code: e.Code, Message: e.Message, Context: ctx}
}

// StatusOf maps an error to the status vocabulary. nil maps to StatusOk;
// errors that do not carry a code map to StatusError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOk
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return StatusError
}
