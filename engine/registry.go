// File: engine/registry.go
// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide connection registry. Handles are an arena index paired
// with a generation counter; removing an entry retires the generation so
// a stale handle held by application code can never resolve to a new
// connection.

package engine

import (
	"sync"

	"github.com/momentics/gccg-transport/api"
)

type regEntry struct {
	conn *Connection
	gen  uint32
	live bool
}

type registry struct {
	mu      sync.RWMutex
	entries []regEntry
	free    []uint32
}

func handleOf(idx, gen uint32) api.ConnHandle {
	return api.ConnHandle(uint64(idx)<<32 | uint64(gen))
}

func splitHandle(h api.ConnHandle) (idx, gen uint32) {
	return uint32(uint64(h) >> 32), uint32(uint64(h))
}

// reserve allocates an arena slot under a fresh generation and returns
// its handle. The entry stays invisible to lookup and all until commit
// publishes it, so a connection is never observable before it is fully
// built.
func (r *registry) reserve() api.ConnHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.entries = append(r.entries, regEntry{})
		idx = uint32(len(r.entries) - 1)
	}
	e := &r.entries[idx]
	e.gen++ // generations start at 1; a zero handle is never valid
	e.conn = nil
	e.live = false
	return handleOf(idx, e.gen)
}

// commit publishes a reserved connection.
func (r *registry) commit(h api.ConnHandle, c *Connection) {
	idx, gen := splitHandle(h)
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(idx) >= len(r.entries) {
		return
	}
	e := &r.entries[idx]
	if e.gen != gen || e.live {
		return
	}
	e.conn = c
	e.live = true
}

// abort recycles a reserved slot that was never committed. The burned
// generation keeps the handle dead.
func (r *registry) abort(h api.ConnHandle) {
	idx, gen := splitHandle(h)
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(idx) >= len(r.entries) {
		return
	}
	e := &r.entries[idx]
	if e.gen != gen || e.live {
		return
	}
	r.free = append(r.free, idx)
}

// insert reserves a slot and immediately publishes the connection.
func (r *registry) insert(c *Connection) api.ConnHandle {
	h := r.reserve()
	r.commit(h, c)
	return h
}

// lookup resolves a handle to its live connection.
func (r *registry) lookup(h api.ConnHandle) (*Connection, error) {
	idx, gen := splitHandle(h)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.entries) {
		return nil, api.ErrUnknownHandle
	}
	e := &r.entries[idx]
	if !e.live || e.gen != gen {
		return nil, api.ErrUnknownHandle
	}
	return e.conn, nil
}

// remove retires a handle. The arena slot is recycled under a new
// generation.
func (r *registry) remove(h api.ConnHandle) error {
	idx, gen := splitHandle(h)
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(idx) >= len(r.entries) {
		return api.ErrUnknownHandle
	}
	e := &r.entries[idx]
	if !e.live || e.gen != gen {
		return api.ErrUnknownHandle
	}
	e.live = false
	e.conn = nil
	r.free = append(r.free, idx)
	return nil
}

// all snapshots the live connections.
func (r *registry) all() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.entries))
	for i := range r.entries {
		if r.entries[i].live {
			out = append(out, r.entries[i].conn)
		}
	}
	return out
}

// count returns the number of live connections.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.entries {
		if r.entries[i].live {
			n++
		}
	}
	return n
}
