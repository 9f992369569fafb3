package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fptr(f float64) *float64 { return &f }

func tptr(t time.Time) *time.Time { return &t }

var gateNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newGate() Gate {
	return Gate{MinInterval: 5 * time.Second, ForceDeltaPP: 0.5}
}

func TestGate_FirstObservationAlwaysWrites(t *testing.T) {
	g := newGate()
	assert.True(t, g.ShouldWrite(GateState{}, Observation{Price: 0.50, Now: gateNow}))
	assert.True(t, g.ShouldWrite(GateState{LastPrice: fptr(0.50)}, Observation{Price: 0.50, Now: gateNow}))
}

func TestGate_UnchangedPriceSkips(t *testing.T) {
	g := newGate()
	st := GateState{LastPrice: fptr(0.50), LastWritten: tptr(gateNow.Add(-time.Hour))}

	assert.False(t, g.ShouldWrite(st, Observation{Price: 0.50, Now: gateNow}))

	// Sub-epsilon jitter counts as unchanged.
	assert.False(t, g.ShouldWrite(st, Observation{Price: 0.50 + 1e-12, Now: gateNow}))
}

func TestGate_ForceDeltaOverridesInterval(t *testing.T) {
	g := newGate()
	// Written a moment ago, interval far from elapsed.
	st := GateState{LastPrice: fptr(0.50), LastWritten: tptr(gateNow.Add(-time.Second))}

	assert.True(t, g.ShouldWrite(st, Observation{Price: 0.506, Now: gateNow}), "0.6pp move forces a write")
	assert.False(t, g.ShouldWrite(st, Observation{Price: 0.501, Now: gateNow}), "0.1pp move waits for the interval")
}

func TestGate_NewVolumeWritesEvenUnchanged(t *testing.T) {
	g := newGate()
	st := GateState{LastPrice: fptr(0.50), LastWritten: tptr(gateNow.Add(-time.Second))}

	assert.True(t, g.ShouldWrite(st, Observation{Price: 0.50, BatchVolume: 12.5, Now: gateNow}))
}

func TestGate_SpreadChangeWrites(t *testing.T) {
	g := newGate()
	st := GateState{
		LastPrice:   fptr(0.50),
		LastWritten: tptr(gateNow.Add(-time.Second)),
		LastSpread:  fptr(0.02),
	}

	assert.True(t, g.ShouldWrite(st, Observation{Price: 0.50, Spread: fptr(0.03), Now: gateNow}))
	assert.False(t, g.ShouldWrite(st, Observation{Price: 0.50, Spread: fptr(0.02), Now: gateNow}))

	// First spread ever seen counts as a change.
	st.LastSpread = nil
	assert.True(t, g.ShouldWrite(st, Observation{Price: 0.50, Spread: fptr(0.02), Now: gateNow}))
}

func TestGate_MinIntervalHeartbeat(t *testing.T) {
	g := newGate()
	st := GateState{LastPrice: fptr(0.50), LastWritten: tptr(gateNow.Add(-6 * time.Second))}

	// Small change + elapsed interval writes.
	assert.True(t, g.ShouldWrite(st, Observation{Price: 0.501, Now: gateNow}))

	st.LastWritten = tptr(gateNow.Add(-2 * time.Second))
	assert.False(t, g.ShouldWrite(st, Observation{Price: 0.501, Now: gateNow}))
}
