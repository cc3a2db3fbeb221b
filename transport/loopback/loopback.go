// File: transport/loopback/loopback.go
// Package loopback
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-process wire binding: a linked Tx/Rx pair delivering payloads
// directly to the peer's sink. Used by the engine tests and the example
// application; artificial latency and a silent (never-acknowledging)
// mode support deterministic timeout testing.

package loopback

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/gccg-transport/api"
)

// Option tunes a loopback pair.
type Option func(*pair)

// WithLatency delays delivery and acknowledgment by d.
func WithLatency(d time.Duration) Option {
	return func(p *pair) { p.latency = d }
}

// WithSilent makes the Tx end swallow payloads: nothing is delivered and
// Complete is never called, so every submission runs into its deadline.
func WithSilent() Option {
	return func(p *pair) { p.silent = true }
}

type delivery struct {
	timer    *time.Timer
	complete func(api.Status)
}

// pair is the shared state behind the two binding ends.
type pair struct {
	mu      sync.Mutex
	sink    api.RxSink
	latency time.Duration
	silent  bool
	closed  bool
	pending map[uuid.UUID]*delivery
}

// NewPair returns a linked transmit and receive binding.
func NewPair(opts ...Option) (api.TxBinding, api.RxBinding) {
	p := &pair{pending: make(map[uuid.UUID]*delivery)}
	for _, o := range opts {
		o(p)
	}
	return &txEnd{p: p}, &rxEnd{p: p}
}

type txEnd struct{ p *pair }

type rxEnd struct{ p *pair }

// Send copies the payload spans and schedules delivery to the peer sink.
func (t *txEnd) Send(req *api.TxRequest) error {
	p := t.p
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return api.ErrTransportClosed
	}
	if p.silent {
		p.mu.Unlock()
		return nil // swallowed: no delivery, no completion
	}
	// Spans are only valid during Send; copy before going asynchronous.
	spans := make([][]byte, len(req.Segments))
	for i, s := range req.Segments {
		spans[i] = append([]byte(nil), s...)
	}
	cfg := append([]byte(nil), req.ConfigJSON...)
	id := req.PayloadID
	origin := req.Origination
	complete := req.Complete
	run := func() {
		p.deliver(id, spans, cfg, origin)
		complete(api.StatusOk)
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}
	if p.latency <= 0 {
		p.mu.Unlock()
		run()
		return nil
	}
	d := &delivery{complete: complete}
	d.timer = time.AfterFunc(p.latency, run)
	p.pending[id] = d
	p.mu.Unlock()
	return nil
}

// Cancel aborts a delayed delivery. The payload's Complete is skipped;
// the engine has already resolved it as timed out.
func (t *txEnd) Cancel(id uuid.UUID) {
	p := t.p
	p.mu.Lock()
	if d, ok := p.pending[id]; ok {
		d.timer.Stop()
		delete(p.pending, id)
	}
	p.mu.Unlock()
}

// Close completes every outstanding delayed payload with StatusError.
func (t *txEnd) Close() error {
	p := t.p
	p.mu.Lock()
	p.closed = true
	outstanding := make([]*delivery, 0, len(p.pending))
	for id, d := range p.pending {
		if d.timer.Stop() {
			outstanding = append(outstanding, d)
		}
		delete(p.pending, id)
	}
	p.mu.Unlock()
	for _, d := range outstanding {
		d.complete(api.StatusError)
	}
	return nil
}

func (p *pair) deliver(id uuid.UUID, spans [][]byte, cfg []byte, origin api.Timestamp) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return // peer not started; datagram semantics, silently lost
	}
	segmented := len(spans) > 1
	for i, span := range spans {
		sink.OnSegment(&api.RxSegment{
			PayloadID:   id,
			Index:       uint8(i),
			Final:       i == len(spans)-1,
			Segmented:   segmented,
			ConfigJSON:  cfg,
			Origination: origin,
			Data:        span,
		})
	}
}

// Start attaches the engine sink to the receive end.
func (r *rxEnd) Start(sink api.RxSink) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if r.p.sink != nil {
		return api.NewError(api.StatusError, "loopback rx already started")
	}
	r.p.sink = sink
	return nil
}

// Close detaches the sink; later deliveries are dropped.
func (r *rxEnd) Close() error {
	r.p.mu.Lock()
	r.p.sink = nil
	r.p.mu.Unlock()
	return nil
}
