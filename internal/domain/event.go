package domain

import "time"

// Feed events are the canonical variants produced by the venue adapters.
// AssetID is always the venue's wire-level identifier (source token id for
// Polymarket, market ticker for Kalshi), not the internal token id.

// PriceUpdate is a last-trade or quoted price change for one asset.
type PriceUpdate struct {
	AssetID string
	Price   float64
	Ts      time.Time
}

// Trade sides as reported by venues.
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// TradeEvent is an executed trade. Size is in contracts; Size*Price is the
// notional value accumulated for volume tracking.
type TradeEvent struct {
	AssetID string
	Price   float64
	Size    float64
	Side    string
	Ts      time.Time
}

// SpreadUpdate carries the current best bid/ask distance for one asset.
type SpreadUpdate struct {
	AssetID string
	BestBid float64
	BestAsk float64
	Spread  float64
	Ts      time.Time
}

// BookUpdate is an order book delta. Only the derived mid/spread is consumed
// by ingestion; levels are kept for completeness.
type BookUpdate struct {
	AssetID string
	Bids    []BookLevel
	Asks    []BookLevel
	Seq     int64
	Ts      time.Time
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// MarketResolved signals venue-side settlement of a market.
type MarketResolved struct {
	MarketSourceID string
	Outcome        string // raw venue value, normalized at handling time
	Ts             time.Time
}

// NewMarket signals a newly listed market with its asset ids.
type NewMarket struct {
	MarketSourceID string
	AssetIDs       []string
	Ts             time.Time
}
