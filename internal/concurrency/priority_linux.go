//go:build linux

// File: internal/concurrency/priority_linux.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux thread priority via setpriority(2) on the worker's own tid.

package concurrency

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/gccg-transport/log"
)

// applyThreadPriority maps the engine priority range 0 (lowest) .. 99
// (highest) onto the niceness range 19 .. -20 and applies it to the
// calling thread. Raising priority above the default needs CAP_SYS_NICE;
// failures are logged and ignored.
func applyThreadPriority(maxPriority int) {
	if maxPriority < 0 {
		return
	}
	if maxPriority > 99 {
		maxPriority = 99
	}
	nice := 19 - (maxPriority*39)/99
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice); err != nil {
		log.Debugf("setpriority(nice=%d) failed: %v", nice, err)
	}
}
