// Package health exposes the process-level health flag shared between
// the processing core and the HTTP surface (spec.md §9's "cyclic
// dependency" design note: passed as a capability, not via config).
package health

import "sync/atomic"

// Flag is a concurrency-safe boolean health indicator.
type Flag struct {
	healthy atomic.Bool
}

// New returns a Flag initialized to healthy.
func New() *Flag {
	f := &Flag{}
	f.healthy.Store(true)
	return f
}

// MarkHealthy flips the flag healthy.
func (f *Flag) MarkHealthy() { f.healthy.Store(true) }

// MarkUnhealthy flips the flag unhealthy.
func (f *Flag) MarkUnhealthy() { f.healthy.Store(false) }

// Healthy reports the current state.
func (f *Flag) Healthy() bool { return f.healthy.Load() }
