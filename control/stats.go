// File: control/stats.go
// Package control
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime counters for the transport engine. Counters are updated with
// atomics on the hot path and exported as a snapshot map for debug probes.

package control

import "sync/atomic"

// Stats aggregates engine-wide accounting.
type Stats struct {
	PayloadsSubmitted atomic.Int64
	PayloadsDelivered atomic.Int64
	PayloadsTimedOut  atomic.Int64
	PayloadsFailed    atomic.Int64
	RxDelivered       atomic.Int64
	RxDropped         atomic.Int64
	RxMalformed       atomic.Int64
	Dispatched        atomic.Int64
	Discarded         atomic.Int64
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"payloads_submitted": s.PayloadsSubmitted.Load(),
		"payloads_delivered": s.PayloadsDelivered.Load(),
		"payloads_timed_out": s.PayloadsTimedOut.Load(),
		"payloads_failed":    s.PayloadsFailed.Load(),
		"rx_delivered":       s.RxDelivered.Load(),
		"rx_dropped":         s.RxDropped.Load(),
		"rx_malformed":       s.RxMalformed.Load(),
		"dispatched":         s.Dispatched.Load(),
		"discarded":          s.Discarded.Load(),
	}
}
