package world

import (
	"sync"
	"sync/atomic"
)

// Clock counts world ticks. Only the reactor advances it; anyone may read it.
type Clock struct {
	now atomic.Uint64

	mu        sync.Mutex
	listeners []func(tick uint64)
}

func (c *Clock) Now() uint64 { return c.now.Load() }

// Advance increments the clock and notifies listeners with the new value.
func (c *Clock) Advance() uint64 {
	t := c.now.Add(1)
	c.mu.Lock()
	ls := append([]func(uint64){}, c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		l(t)
	}
	return t
}

func (c *Clock) OnTick(fn func(tick uint64)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}
