//go:build !linux

// File: internal/concurrency/priority_other.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// applyThreadPriority is a no-op on platforms without per-thread
// setpriority support.
func applyThreadPriority(maxPriority int) {}
