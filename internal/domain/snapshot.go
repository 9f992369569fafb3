package domain

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable price observation for a token. Append-only;
// the database deduplicates on (token_id, ts).
type Snapshot struct {
	TokenID   uuid.UUID
	Ts        time.Time
	Price     float64 // clamped to [0,1] before storage
	Volume24h *float64
	Spread    *float64
}

// ClampPrice bounds a price into the valid probability range [0,1].
func ClampPrice(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
