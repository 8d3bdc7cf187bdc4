// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug probes and their HTTP dump.

package control

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/momentics/hioload-mem/api"
	"github.com/momentics/hioload-mem/pool"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]api.Probe
}

var _ api.Debug = (*DebugProbes)(nil)

func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]api.Probe),
	}
}

// RegisterProbe inserts or replaces a named probe.
func (dp *DebugProbes) RegisterProbe(name string, fn api.Probe) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}

// RegisterAllocatorProbes exposes the allocator configuration and a metrics
// snapshot.
func RegisterAllocatorProbes(dp *DebugProbes, alloc *pool.Allocator) {
	dp.RegisterProbe("allocator.config", func() any { return alloc.Config() })
	dp.RegisterProbe("allocator.metrics", func() any { return alloc.Metrics() })
	dp.RegisterProbe("allocator.size_classes", func() any {
		sc := alloc.SizeClasses()
		return map[string]int{
			"sizes":      sc.NumSizes(),
			"small":      sc.NumSubpages(),
			"pages":      sc.NumPageSizes(),
			"lookup_max": sc.LookupMaxSize(),
		}
	})
}

// Handler serves DumpState as JSON.
func (dp *DebugProbes) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dp.DumpState()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
