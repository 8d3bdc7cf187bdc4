// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop is a single-goroutine event loop over a Reactor. Every connection gets
// a pooled read buffer drawn from the loop's own thread cache; the buffer is
// handed back as soon as the handler has consumed it.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/momentics/hioload-mem/core/buffer"
	"github.com/momentics/hioload-mem/internal/concurrency"
	"github.com/momentics/hioload-mem/pool"
	"go.uber.org/zap"
)

// Handler receives connection events on the loop goroutine. OnClose owns the
// descriptor: the loop never closes it.
type Handler interface {
	OnData(fd int, buf *buffer.Buffer)
	// OnClose reports the end of a connection; err is nil on a clean EOF.
	OnClose(fd int, err error)
}

// LoopConfig tunes a Loop. Zero fields take defaults.
type LoopConfig struct {
	ReadBufferSize int
	MaxEvents      int
	PollTimeout    time.Duration

	// Pin binds the loop's OS thread to CPU for the lifetime of Run.
	Pin bool
	CPU int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = buffer.InitialSize
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 128
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	return c
}

type conn struct {
	fd  int
	buf *buffer.Buffer
}

type Loop struct {
	cfg   LoopConfig
	alloc *pool.Allocator
	r     Reactor
	h     Handler
	log   *zap.Logger

	mu    sync.Mutex
	conns map[int]*conn

	cache *pool.ThreadCache
}

// NewLoop creates a loop with its own reactor.
func NewLoop(alloc *pool.Allocator, h Handler, cfg LoopConfig, log *zap.Logger) (*Loop, error) {
	r, err := New()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		cfg:   cfg.withDefaults(),
		alloc: alloc,
		r:     r,
		h:     h,
		log:   log,
		conns: make(map[int]*conn),
	}, nil
}

// Add starts watching fd for input. fd should be non-blocking. Safe from any
// goroutine.
func (l *Loop) Add(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.conns[fd]; ok {
		return fmt.Errorf("reactor: fd %d already added", fd)
	}
	if err := l.r.Register(fd, EventRead); err != nil {
		return err
	}
	l.conns[fd] = &conn{fd: fd}
	l.log.Debug("connection added", zap.Int("fd", fd))
	return nil
}

// Remove stops watching fd and releases its buffer without calling OnClose.
// It must run on the loop goroutine, usually from a Handler.
func (l *Loop) Remove(fd int) error {
	l.mu.Lock()
	c, ok := l.conns[fd]
	delete(l.conns, fd)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	l.releaseBuf(c)
	return l.r.Unregister(fd)
}

// Conns is the number of watched descriptors.
func (l *Loop) Conns() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Run polls until ctx ends, then releases every buffer and the loop's thread
// cache. The reactor is closed on return.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Pin {
		restore, err := concurrency.PinCurrentThread(l.cfg.CPU)
		if err != nil {
			l.log.Warn("loop not pinned", zap.Int("cpu", l.cfg.CPU), zap.Error(err))
		} else {
			defer restore()
		}
	}

	cache, err := l.alloc.NewThreadCache()
	if err != nil {
		return fmt.Errorf("reactor: thread cache: %w", err)
	}
	l.cache = cache
	defer func() {
		l.mu.Lock()
		for _, c := range l.conns {
			l.releaseBuf(c)
		}
		l.mu.Unlock()
		stats := cache.Stats()
		_ = cache.Close()
		_ = l.r.Close()
		l.log.Info("event loop stopped",
			zap.Int("arena", stats.Arena),
			zap.Int("cacheTrims", stats.Trims),
			zap.Int("cachedBlocks", stats.QueuedSmall+stats.QueuedNormal))
	}()

	events := make([]Event, l.cfg.MaxEvents)
	timeout := int(l.cfg.PollTimeout / time.Millisecond)
	l.log.Info("event loop started", zap.Int("arena", cache.Stats().Arena))
	for ctx.Err() == nil {
		n, err := l.r.Poll(events, timeout)
		if err != nil {
			return err
		}
		for _, ev := range events[:n] {
			l.dispatch(ev)
		}
	}
	return nil
}

func (l *Loop) dispatch(ev Event) {
	l.mu.Lock()
	c := l.conns[ev.Fd]
	l.mu.Unlock()
	if c == nil {
		return
	}

	if c.buf == nil {
		buf, err := buffer.Acquire(l.cache, l.cfg.ReadBufferSize)
		if err != nil {
			l.log.Warn("read buffer unavailable", zap.Int("fd", c.fd), zap.Error(err))
			l.closeConn(c, err)
			return
		}
		c.buf = buf
	}

	_, err := c.buf.ReadFd(c.fd)
	switch {
	case err == nil:
		l.h.OnData(c.fd, c.buf)
		if c.buf != nil && c.buf.ReadableBytes() == 0 {
			l.releaseBuf(c)
		}
	case retryable(err):
	case errors.Is(err, io.EOF):
		l.closeConn(c, nil)
	default:
		l.closeConn(c, err)
	}
}

func (l *Loop) closeConn(c *conn, cause error) {
	l.mu.Lock()
	_, ok := l.conns[c.fd]
	delete(l.conns, c.fd)
	l.mu.Unlock()
	if !ok {
		return
	}
	l.releaseBuf(c)
	if err := l.r.Unregister(c.fd); err != nil {
		l.log.Warn("unregister failed", zap.Int("fd", c.fd), zap.Error(err))
	}
	l.log.Debug("connection closed", zap.Int("fd", c.fd), zap.Error(cause))
	l.h.OnClose(c.fd, cause)
}

func (l *Loop) releaseBuf(c *conn) {
	if c.buf == nil {
		return
	}
	_ = c.buf.Release()
	c.buf = nil
}
