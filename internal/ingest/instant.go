package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/analytics"
)

// InstantConfig tunes the real-time mover detector that runs inline with the
// feed, ahead of the windowed cache job.
type InstantConfig struct {
	// ThresholdPP is the minimum absolute move in percentage points.
	ThresholdPP float64
	// MinQuality rejects low-quality moves when volume is known.
	MinQuality float64
	// MinVolume rejects thin trades when volume is known.
	MinVolume float64
	// Debounce is the per-token cooldown between emissions.
	Debounce time.Duration
	// HoldZone suppresses moves that barely clear the threshold: the edge
	// over the threshold must itself reach HoldZoneMovePP.
	HoldZone       bool
	HoldZoneMovePP float64
}

// InstantMover is one detected real-time move.
type InstantMover struct {
	TokenID    uuid.UUID
	OldPrice   float64
	NewPrice   float64
	MovePP     float64
	ChangePct  float64
	Quality    *float64 // nil when volume was unknown
	DetectedAt time.Time
}

// InstantDetector applies threshold, hold-zone, quality and debounce checks
// to price transitions. Safe for concurrent use.
type InstantDetector struct {
	cfg InstantConfig

	mu        sync.Mutex
	lastFired map[uuid.UUID]time.Time
}

// NewInstantDetector creates a detector with the given tuning.
func NewInstantDetector(cfg InstantConfig) *InstantDetector {
	return &InstantDetector{
		cfg:       cfg,
		lastFired: make(map[uuid.UUID]time.Time),
	}
}

// Check evaluates one price transition. volume is the trade notional when the
// transition came from a trade, nil for quote-only updates. Returns nil when
// nothing should fire.
func (d *InstantDetector) Check(tokenID uuid.UUID, oldPrice, newPrice float64, volume *float64, now time.Time) *InstantMover {
	if oldPrice <= 0 {
		return nil
	}

	movePP := analytics.MovePP(newPrice, oldPrice)
	absMove := abs(movePP)
	if absMove < d.cfg.ThresholdPP {
		return nil
	}

	// The edge over the threshold, not the move itself, must clear the hold
	// zone. A 5.2pp move against a 5pp threshold with a 2pp zone stays quiet.
	if d.cfg.HoldZone && absMove-d.cfg.ThresholdPP < d.cfg.HoldZoneMovePP {
		return nil
	}

	var quality *float64
	if volume != nil && *volume > 0 {
		if d.cfg.MinVolume > 0 && *volume < d.cfg.MinVolume {
			return nil
		}
		q := analytics.QualityScore(absMove, *volume)
		if q < d.cfg.MinQuality {
			return nil
		}
		quality = &q
	}

	d.mu.Lock()
	if last, ok := d.lastFired[tokenID]; ok && now.Sub(last) < d.cfg.Debounce {
		d.mu.Unlock()
		return nil
	}
	d.lastFired[tokenID] = now
	d.mu.Unlock()

	changePct, _ := analytics.PctChange(newPrice, oldPrice)
	return &InstantMover{
		TokenID:    tokenID,
		OldPrice:   oldPrice,
		NewPrice:   newPrice,
		MovePP:     movePP,
		ChangePct:  changePct,
		Quality:    quality,
		DetectedAt: now,
	}
}
