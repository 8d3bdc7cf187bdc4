// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus view of allocator metrics. Values are read from an allocator
// snapshot on every scrape.

package control

import (
	"strconv"

	"github.com/momentics/hioload-mem/pool"
	"github.com/prometheus/client_golang/prometheus"
)

type allocatorCollector struct {
	alloc *pool.Allocator

	allocations       *prometheus.Desc
	deallocations     *prometheus.Desc
	activeAllocations *prometheus.Desc
	activeBytes       *prometheus.Desc
	activeHugeBytes   *prometheus.Desc
	chunks            *prometheus.Desc
	chunksCreated     *prometheus.Desc
	chunksDestroyed   *prometheus.Desc
	threadCaches      *prometheus.Desc
}

// NewAllocatorCollector exports per-arena allocator counters under
// namespace_allocator_*.
func NewAllocatorCollector(alloc *pool.Allocator, namespace string) prometheus.Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "allocator", name), help,
			append([]string{"arena"}, labels...), nil)
	}
	return &allocatorCollector{
		alloc:             alloc,
		allocations:       desc("allocations_total", "Allocations served by the arena, by size kind.", "kind"),
		deallocations:     desc("deallocations_total", "Blocks returned to the arena, by size kind.", "kind"),
		activeAllocations: desc("active_allocations", "Allocations not yet returned to the arena."),
		activeBytes:       desc("active_bytes", "Bytes handed out of chunks plus huge allocations."),
		activeHugeBytes:   desc("active_huge_bytes", "Bytes held by unpooled huge allocations."),
		chunks:            desc("chunks", "Pooled chunks per usage list.", "list"),
		chunksCreated:     desc("chunks_created_total", "Pooled chunks created."),
		chunksDestroyed:   desc("chunks_destroyed_total", "Pooled chunks returned to the OS."),
		threadCaches:      desc("thread_caches", "Thread caches bound to the arena."),
	}
}

func (c *allocatorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocations
	ch <- c.deallocations
	ch <- c.activeAllocations
	ch <- c.activeBytes
	ch <- c.activeHugeBytes
	ch <- c.chunks
	ch <- c.chunksCreated
	ch <- c.chunksDestroyed
	ch <- c.threadCaches
}

func (c *allocatorCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.alloc.Metrics().Arenas {
		arena := strconv.Itoa(m.Index)
		counter := func(d *prometheus.Desc, v int64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), append([]string{arena}, labels...)...)
		}
		gauge := func(d *prometheus.Desc, v int64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), append([]string{arena}, labels...)...)
		}

		counter(c.allocations, m.AllocationsSmall, "small")
		counter(c.allocations, m.AllocationsNormal, "normal")
		counter(c.allocations, m.AllocationsHuge, "huge")
		counter(c.deallocations, m.DeallocationsSmall, "small")
		counter(c.deallocations, m.DeallocationsNormal, "normal")
		counter(c.deallocations, m.DeallocationsHuge, "huge")
		gauge(c.activeAllocations, m.NumActiveAllocations())
		gauge(c.activeBytes, m.ActiveBytes())
		gauge(c.activeHugeBytes, m.ActiveBytesHuge)
		for _, l := range m.ChunkLists {
			gauge(c.chunks, int64(len(l.Chunks)), l.Name)
		}
		counter(c.chunksCreated, m.ChunksCreated)
		counter(c.chunksDestroyed, m.ChunksDestroyed)
		gauge(c.threadCaches, int64(m.NumThreadCaches))
	}
}

var _ prometheus.Collector = new(allocatorCollector)
