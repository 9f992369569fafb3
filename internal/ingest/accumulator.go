package ingest

import "sync"

// VolumeAccumulator collects trade notional per asset between flushes. The
// feed read loop adds, the flush path drains; both may run concurrently.
type VolumeAccumulator struct {
	mu      sync.Mutex
	pending map[string]float64
}

// NewVolumeAccumulator returns an empty accumulator.
func NewVolumeAccumulator() *VolumeAccumulator {
	return &VolumeAccumulator{pending: make(map[string]float64)}
}

// Add accumulates notional for an asset. Non-positive amounts are ignored.
func (a *VolumeAccumulator) Add(assetID string, notional float64) {
	if notional <= 0 || assetID == "" {
		return
	}
	a.mu.Lock()
	a.pending[assetID] += notional
	a.mu.Unlock()
}

// Pending returns the accumulated notional for one asset without clearing.
func (a *VolumeAccumulator) Pending(assetID string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending[assetID]
}

// Drain returns all accumulated volumes and resets the accumulator. The
// returned map is owned by the caller.
func (a *VolumeAccumulator) Drain() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	out := a.pending
	a.pending = make(map[string]float64)
	return out
}

// Len reports how many assets have pending volume.
func (a *VolumeAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
