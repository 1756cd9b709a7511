// Package lifecycle holds the single process-wide cancellation primitive
// shared by every pipeline stage (spec.md §3, ShutdownFlag; §5 Cancellation
// and timeout).
package lifecycle

import "sync/atomic"

// ShutdownFlag is a write-once-from-false-to-true, many-reader cancellation
// flag. It is the pipeline's sole cancellation channel: every long-running
// loop polls it at ≤100ms granularity.
type ShutdownFlag struct {
	flag atomic.Bool
}

// NewShutdownFlag returns an unset flag.
func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{}
}

// Set latches the flag to true. Idempotent.
func (s *ShutdownFlag) Set() {
	s.flag.Store(true)
}

// IsSet reports whether shutdown has been requested.
func (s *ShutdownFlag) IsSet() bool {
	return s.flag.Load()
}
