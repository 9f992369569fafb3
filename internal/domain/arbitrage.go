package domain

import (
	"time"

	"github.com/google/uuid"
)

// Arbitrage strategies: which leg is bought on which venue.
const (
	ArbitrageTypeYesNo = "YES_NO" // buy YES on Polymarket + NO on Kalshi
	ArbitrageTypeNoYes = "NO_YES" // buy NO on Polymarket + YES on Kalshi
)

// MarketPair links the same real-world proposition listed on both venues,
// joined with the latest YES price seen on each side.
type MarketPair struct {
	PairID             uuid.UUID
	PolymarketMarketID uuid.UUID
	KalshiMarketID     uuid.UUID
	PolymarketTitle    string
	PolymarketYesPrice *float64
	KalshiYesPrice     *float64
	PolymarketVolume   *float64
	KalshiVolume       *float64
}

// ArbitrageOpportunity records a hedge whose combined cost was below $1 at
// detection time. Validity is time-bounded; expired rows are swept, not reused.
type ArbitrageOpportunity struct {
	OpportunityID      uuid.UUID
	PairID             uuid.UUID
	ArbitrageType      string
	PolymarketYesPrice float64
	PolymarketNoPrice  float64
	KalshiYesPrice     float64
	KalshiNoPrice      float64
	TotalCost          float64
	ProfitMargin       float64
	ProfitPercentage   float64
	PolymarketVolume   *float64
	KalshiVolume       *float64
	DetectedAt         time.Time
	ExpiresAt          time.Time
}
