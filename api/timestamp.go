// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// Timestamp holds a PTP-epoch time as seconds plus nanoseconds.
// The epoch is the SMPTE epoch 1970-01-01T00:00:00. Nanoseconds is always
// less than 1e9 for a valid value.
type Timestamp struct {
	Seconds     uint32 `json:"seconds"`
	Nanoseconds uint32 `json:"nanoseconds"`
}

// Now captures the current wall clock as a Timestamp.
func Now() Timestamp {
	return TimestampFromTime(time.Now())
}

// TimestampFromTime converts a time.Time to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{
		Seconds:     uint32(t.Unix()),
		Nanoseconds: uint32(t.Nanosecond()),
	}
}

// Time converts the Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.Nanoseconds))
}

// Valid reports whether the nanoseconds field is in range.
func (t Timestamp) Valid() bool {
	return t.Nanoseconds < 1_000_000_000
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanoseconds == 0
}
