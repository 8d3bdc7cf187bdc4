// Package pool
// Author: momentics <momentics@gmail.com>
//
// Pooled arena allocator for connection I/O buffers.
//
// Memory is reserved in chunks (16 MiB by default) and carved into runs of
// pages for normal requests and into bitmap-managed subpages for small ones.
// Chunks are grouped by usage in chunk lists, and requests are sharded over
// several arenas. A ThreadCache in front of an arena parks recently freed
// blocks for its owning goroutine. Requests above the chunk size bypass
// pooling entirely.
//
// See sizeclasses.go, chunk.go, arena.go and threadcache.go for details.
package pool
