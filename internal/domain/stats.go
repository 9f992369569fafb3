package domain

import (
	"time"

	"github.com/google/uuid"
)

// MarketStats is a per-token rolling volatility baseline, recomputed
// periodically from hourly snapshot closes. It is the normalization
// denominator for Z-score mover ranking.
type MarketStats struct {
	TokenID           uuid.UUID
	AvgMovePP         float64
	StddevMovePP      float64
	MaxMovePP         float64
	AvgLogOdds        float64
	StddevLogOdds     float64
	AvgVolume         float64
	StddevVolume      float64
	SampleCount       int
	HasSufficientData bool
	LastUpdated       time.Time
}

// HourlySample is one hourly close used when computing MarketStats.
type HourlySample struct {
	HourTs    time.Time
	Close     float64
	PrevClose *float64
	Volume24h *float64
}
