package domain

import (
	"time"

	"github.com/google/uuid"
)

// Volume spike severity bands, ordered.
const (
	SpikeSeverityNone    = "none"
	SpikeSeverityLow     = "low"
	SpikeSeverityMedium  = "medium"
	SpikeSeverityHigh    = "high"
	SpikeSeverityExtreme = "extreme"
)

// VolumeSpike records a token whose current volume ran well above its
// historical baseline.
type VolumeSpike struct {
	SpikeID       uuid.UUID
	TokenID       uuid.UUID
	CurrentVolume float64
	AvgVolume     float64
	SpikeRatio    float64
	CurrentPrice  *float64
	PriceChange1h *float64
	Severity      string
	CreatedAt     time.Time
}

// SpikeCandidate is a token whose current/avg volume ratio cleared the query
// threshold, enriched with market context for alert text.
type SpikeCandidate struct {
	TokenID       uuid.UUID
	CurrentVolume float64
	AvgVolume     float64
	SpikeRatio    float64
	CurrentPrice  *float64
	Title         string
	Outcome       string
}
