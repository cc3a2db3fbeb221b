// File: control/stats_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshot(t *testing.T) {
	var s Stats
	s.PayloadsSubmitted.Add(3)
	s.PayloadsDelivered.Add(2)
	s.PayloadsTimedOut.Add(1)
	s.RxDropped.Add(4)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap["payloads_submitted"])
	assert.Equal(t, int64(2), snap["payloads_delivered"])
	assert.Equal(t, int64(1), snap["payloads_timed_out"])
	assert.Equal(t, int64(4), snap["rx_dropped"])
	assert.Equal(t, int64(0), snap["dispatched"])
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("answer", func() any { return 42 })
	dp.RegisterProbe("word", func() any { return "ok" })

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Equal(t, "ok", state["word"])
	assert.Len(t, state, 2)
}
