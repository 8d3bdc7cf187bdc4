// Package api
// Author: momentics
//
// Live introspection of allocator state for production workloads.

package api

// Probe produces a point-in-time value for a debug dump.
type Probe func() any

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState evaluates every registered probe.
	DumpState() map[string]any

	// RegisterProbe registers (or replaces) a named probe.
	RegisterProbe(name string, fn Probe)
}
