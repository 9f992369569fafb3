package domain

import (
	"time"

	"github.com/google/uuid"
)

// Candle is one OHLC bucket rolled up from snapshots. Volume is the largest
// rolling 24h-volume observation seen inside the bucket, not an intra-bucket
// traded sum.
type Candle struct {
	TokenID  uuid.UUID
	BucketTs time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   *float64
}
