package signaling

import "sync/atomic"

// atomicCounter is a thin wrapper so diagnostics fields read like plain
// counters at call sites (d.messagesSent.inc()) instead of bare atomic.Uint64.
type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) inc() { c.v.Add(1) }

func (c *atomicCounter) load() uint64 { return c.v.Load() }
