// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"

	"github.com/momentics/hioload-mem/api"
)

// SyncPool is a goroutine-safe ObjectPool over sync.Pool. It backs buffers
// allocated without a ThreadCache, which may be released from any goroutine.
type SyncPool[T any] struct {
	pool  *sync.Pool
	reset func(T)
}

var _ api.ObjectPool[*PooledByteBuf] = (*SyncPool[*PooledByteBuf])(nil)

// NewSyncPool creates a SyncPool. reset, if non-nil, runs on every Put.
func NewSyncPool[T any](creator func() T, reset func(T)) *SyncPool[T] {
	return &SyncPool[T]{
		pool:  &sync.Pool{New: func() any { return creator() }},
		reset: reset,
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		sp.reset(obj)
	}
	sp.pool.Put(obj)
}
