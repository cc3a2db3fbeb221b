// File: engine/poll.go
// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-threaded event loop entry point. Only meaningful when the
// engine was created with MaxThreads == 0; in that configuration no
// background goroutine exists and nothing is delivered until the
// application polls.

package engine

import (
	"time"

	"github.com/momentics/gccg-transport/api"
)

// PollEvents drives the engine from the application's event loop. It
// expires due payload deadlines, sweeps stalled reassemblies, then drains
// the connection's notification queue, invoking every queued callback
// synchronously on the calling thread. Returns the number of
// notifications delivered.
//
// Calling PollEvents on a threaded engine fails with InvalidParameter.
func (e *Engine) PollEvents(h api.ConnHandle) (int, error) {
	if !e.running() {
		return 0, api.ErrEngineShutdown
	}
	if !e.disp.PollMode() {
		return 0, api.ErrPollModeOnly
	}
	conn, err := e.reg.lookup(h)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	// Deadlines are engine-wide: payloads of other connections armed
	// earlier must not be starved because only this handle is polled.
	e.monitor.expireDue(now)
	if conn.role == RoleRx {
		e.sweepConn(conn, now)
	}
	return e.disp.Poll(conn.queue)
}
