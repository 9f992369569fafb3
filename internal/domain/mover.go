package domain

import (
	"time"

	"github.com/google/uuid"
)

// MoverRow is a raw windowed price move as read from snapshots: the latest
// price joined against the price at-or-before the window boundary. Scoring
// happens in Go so all code paths (cache, alerts) rank identically.
type MoverRow struct {
	TokenID      uuid.UUID
	MarketID     uuid.UUID
	Title        string
	Outcome      string
	Source       Source
	LatestPrice  float64
	LatestTs     time.Time
	OldPrice     float64
	LatestVolume float64
	MovePP       float64
	Spread       *float64
	EndDate      *time.Time
}

// MoverCacheRow is one derived, ranked entry of a mover-cache generation.
// All rows of one generation share AsOfTs; readers select the single most
// recent AsOfTs per window, so a generation is all-or-nothing to them.
type MoverCacheRow struct {
	AsOfTs        time.Time
	WindowSeconds int
	TokenID       uuid.UUID
	PriceNow      float64
	PriceThen     float64
	MovePP        float64
	AbsMovePP     float64
	Rank          int
	QualityScore  float64
	Volume24h     float64
	SpikeRatio    *float64
}
