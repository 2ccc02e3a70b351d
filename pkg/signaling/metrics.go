package signaling

import (
	"sync"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

// emaAlpha is the exponential-moving-average smoothing factor for API
// latency diagnostics (spec §4.10: "EMA with alpha = 0.05").
const emaAlpha = 0.05

// emaTracker is a concurrency-safe exponential moving average.
type emaTracker struct {
	mu     sync.Mutex
	value  float64
	primed bool
}

func (e *emaTracker) observe(sample float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.primed {
		e.value = sample
		e.primed = true
		return
	}
	e.value = emaAlpha*sample + (1-emaAlpha)*e.value
}

func (e *emaTracker) get() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// diagnostics holds the atomically-updated counters from spec §4.10 and the
// per-API latency EMA table.
type diagnostics struct {
	messagesSent     atomicCounter
	messagesReceived atomicCounter
	iceRefreshCount  atomicCounter
	errors           atomicCounter
	runtimeErrors    atomicCounter
	reconnects       atomicCounter

	latencyMu sync.Mutex
	latency   map[string]*emaTracker
}

func newDiagnostics() *diagnostics {
	return &diagnostics{latency: make(map[string]*emaTracker)}
}

func (d *diagnostics) observeLatency(api string, dur time.Duration) {
	d.latencyMu.Lock()
	t, ok := d.latency[api]
	if !ok {
		t = &emaTracker{}
		d.latency[api] = t
	}
	d.latencyMu.Unlock()
	t.observe(float64(dur.Milliseconds()))
}

func (d *diagnostics) snapshot() model.Diagnostics {
	return model.Diagnostics{
		MessagesSent:     d.messagesSent.load(),
		MessagesReceived: d.messagesReceived.load(),
		IceRefreshCount:  d.iceRefreshCount.load(),
		Errors:           d.errors.load(),
		RuntimeErrors:    d.runtimeErrors.load(),
		Reconnects:       d.reconnects.load(),
	}
}

func (d *diagnostics) latencySnapshot() map[string]float64 {
	d.latencyMu.Lock()
	defer d.latencyMu.Unlock()
	out := make(map[string]float64, len(d.latency))
	for api, t := range d.latency {
		out[api] = t.get()
	}
	return out
}
