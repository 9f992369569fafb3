package domain

import (
	"time"

	"github.com/google/uuid"
)

// Alert types.
const (
	AlertTypePriceMove   = "price_move"
	AlertTypeVolumeSpike = "volume_spike"
	AlertTypeCombined    = "combined"
)

// Alert is an append-only record of a significant market event. Dedup is
// enforced by the high-watermark rule at insert time, not by a constraint.
type Alert struct {
	AlertID          uuid.UUID
	TokenID          uuid.UUID
	WindowSeconds    int
	MovePP           float64
	ThresholdPP      float64
	Reason           string
	AlertType        string
	VolumeSpikeRatio *float64
	CreatedAt        time.Time
}
