// Package ingest turns venue feed events into persisted snapshots: write
// gating, volume accumulation, instant mover detection and the per-venue
// streaming runners.
package ingest

import "time"

// priceEpsilon is the equality tolerance for probability prices.
const priceEpsilon = 1e-9

// Gate decides whether a price observation is persisted. Streams repeat
// unchanged prices far faster than they are worth storing; the gate keeps
// snapshot growth proportional to information, not message rate.
type Gate struct {
	// MinInterval is the heartbeat: an otherwise-skippable change is still
	// written once this much time has passed since the last write.
	MinInterval time.Duration
	// ForceDeltaPP writes immediately when the move reaches this many
	// percentage points, regardless of interval.
	ForceDeltaPP float64
}

// GateState is the last persisted observation for one asset. Zero pointers
// mean the asset has never been written.
type GateState struct {
	LastPrice   *float64
	LastWritten *time.Time
	LastSpread  *float64
}

// Observation is the candidate write.
type Observation struct {
	Price float64
	// BatchVolume is new trade notional accumulated since the last flush.
	BatchVolume float64
	// Spread is the current spread, nil when the feed has not quoted one.
	Spread *float64
	Now    time.Time
}

// ShouldWrite applies the gating rules in priority order: bootstrap always
// writes; an unchanged price with no new volume and no spread change never
// writes; a force-delta move writes immediately; new volume or a spread
// change writes; otherwise the min interval decides.
func (g Gate) ShouldWrite(st GateState, obs Observation) bool {
	hasVolume := obs.BatchVolume > 0

	spreadChanged := false
	if obs.Spread != nil {
		spreadChanged = st.LastSpread == nil || abs(*obs.Spread-*st.LastSpread) >= priceEpsilon
	}

	if st.LastPrice == nil || st.LastWritten == nil {
		return true
	}

	unchanged := abs(obs.Price-*st.LastPrice) < priceEpsilon
	if unchanged && !hasVolume && !spreadChanged {
		return false
	}

	movePP := abs(obs.Price-*st.LastPrice) * 100
	if movePP >= g.ForceDeltaPP {
		return true
	}

	if hasVolume || spreadChanged {
		return true
	}

	return obs.Now.Sub(*st.LastWritten) >= g.MinInterval
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
