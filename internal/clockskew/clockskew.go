// Package clockskew tracks the device/server clock offset discovered from
// REST response Date headers, keyed by {endpoint kind, state-machine
// state} so a control-plane call and a data-plane call track skew
// independently (spec §3 Clock-Skew Map, §9 determinism note).
package clockskew

import (
	"sync"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

// Threshold is the minimum |server - device| delta that triggers a
// correction (spec §4.5, §8).
const Threshold = 3 * time.Minute

type key struct {
	kind  model.EndpointKind
	state model.State
}

// Skew is a signed offset (server time minus device time) added to device
// time to get server time: positive means the device clock is behind the
// server, negative means the device is ahead.
type Skew time.Duration

// Table is a concurrency-safe clock-skew map.
type Table struct {
	mu sync.RWMutex
	m  map[key]Skew
}

// NewTable returns an empty clock-skew table.
func NewTable() *Table {
	return &Table{m: make(map[key]Skew)}
}

// Observe records the offset between a server-reported time and the
// device's local time for the given endpoint/state, ignoring deltas within
// Threshold (spec §4.5/§8: "for skew <= 3 min, no correction is applied").
func (t *Table) Observe(kind model.EndpointKind, state model.State, serverTime, deviceTime time.Time) {
	delta := serverTime.Sub(deviceTime)
	if abs(delta) <= Threshold {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key{kind, state}] = Skew(delta)
}

// Get returns the recorded skew for kind/state, or 0 if none was observed.
func (t *Table) Get(kind model.EndpointKind, state model.State) Skew {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[key{kind, state}]
}

// Correct applies the recorded skew to now, returning the server-corrected
// timestamp to sign a request with.
func (t *Table) Correct(kind model.EndpointKind, state model.State, now time.Time) time.Time {
	return now.Add(time.Duration(t.Get(kind, state)))
}

// Clear wipes all recorded skew (spec §3: "Cleared at teardown").
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m = make(map[key]Skew)
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
