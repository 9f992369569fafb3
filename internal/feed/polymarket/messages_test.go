package polymarket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

var fallback = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseMessage_PriceChangeBatched(t *testing.T) {
	raw := []byte(`{
		"event_type": "price_change",
		"market": "0xabc",
		"price_changes": [
			{"asset_id": "111", "price": "0.55", "best_bid": "0.54", "best_ask": "0.56"},
			{"asset_id": "222", "price": "0.12"}
		],
		"timestamp": "1767268800000"
	}`)

	events, err := ParseMessage(raw, fallback)
	require.NoError(t, err)
	require.Len(t, events.Prices, 2)

	assert.Equal(t, "111", events.Prices[0].AssetID)
	assert.Equal(t, 0.55, events.Prices[0].Price)
	assert.Equal(t, time.UnixMilli(1767268800000).UTC(), events.Prices[0].Ts)
	assert.Equal(t, "222", events.Prices[1].AssetID)

	// Only the first change carried quotes.
	require.Len(t, events.Spreads, 1)
	assert.Equal(t, "111", events.Spreads[0].AssetID)
	assert.InDelta(t, 0.02, events.Spreads[0].Spread, 1e-9)
}

func TestParseMessage_PriceChangeLegacy(t *testing.T) {
	raw := []byte(`{"event_type": "price_change", "asset_id": "333", "price": "0.70", "timestamp": 1767268800000}`)

	events, err := ParseMessage(raw, fallback)
	require.NoError(t, err)
	require.Len(t, events.Prices, 1)
	assert.Equal(t, "333", events.Prices[0].AssetID)
	assert.Equal(t, 0.70, events.Prices[0].Price)
}

func TestParseMessage_EventArray(t *testing.T) {
	raw := []byte(`[
		{"event_type": "price_change", "asset_id": "1", "price": "0.40"},
		{"event_type": "last_trade_price", "asset_id": "1", "price": "0.41", "size": "250", "side": "BUY", "timestamp": "1767268800000"}
	]`)

	events, err := ParseMessage(raw, fallback)
	require.NoError(t, err)
	require.Len(t, events.Prices, 1)
	require.Len(t, events.Trades, 1)

	trade := events.Trades[0]
	assert.Equal(t, 0.41, trade.Price)
	assert.Equal(t, 250.0, trade.Size)
	assert.Equal(t, domain.TradeSideBuy, trade.Side)
}

func TestParseMessage_BookDerivesSpread(t *testing.T) {
	raw := []byte(`{
		"event_type": "book",
		"asset_id": "777",
		"bids": [{"price": "0.46", "size": "10"}, {"price": "0.48", "size": "30"}],
		"asks": [{"price": "0.52", "size": "15"}, {"price": "0.50", "size": "5"}]
	}`)

	events, err := ParseMessage(raw, fallback)
	require.NoError(t, err)
	require.Len(t, events.Books, 1)
	require.Len(t, events.Spreads, 1)

	// Best levels are picked regardless of wire ordering.
	spread := events.Spreads[0]
	assert.Equal(t, 0.48, spread.BestBid)
	assert.Equal(t, 0.50, spread.BestAsk)
	assert.InDelta(t, 0.02, spread.Spread, 1e-9)
	assert.Equal(t, fallback, spread.Ts)
}

func TestParseMessage_ResolutionAndNewMarket(t *testing.T) {
	raw := []byte(`[
		{"event_type": "market_resolved", "market": "0xdead", "outcome": "YES"},
		{"event_type": "new_market", "market": "0xbeef", "assets_ids": ["9", "10"]}
	]`)

	events, err := ParseMessage(raw, fallback)
	require.NoError(t, err)
	require.Len(t, events.Resolved, 1)
	assert.Equal(t, "0xdead", events.Resolved[0].MarketSourceID)
	assert.Equal(t, "YES", events.Resolved[0].Outcome)

	require.Len(t, events.NewMarkets, 1)
	assert.Equal(t, []string{"9", "10"}, events.NewMarkets[0].AssetIDs)
}

func TestParseMessage_UnknownTypeCollected(t *testing.T) {
	raw := []byte(`{"event_type": "tick_size_change", "asset_id": "1"}`)

	events, err := ParseMessage(raw, fallback)
	require.NoError(t, err)
	assert.True(t, events.Empty())
	assert.Equal(t, []string{"tick_size_change"}, events.Unknown)
}

func TestParseMessage_MalformedEventSkipped(t *testing.T) {
	// A bad price inside an otherwise valid array drops that event only.
	raw := []byte(`[
		{"event_type": "price_change", "asset_id": "1", "price": "not-a-number"},
		{"event_type": "price_change", "asset_id": "2", "price": "0.33"}
	]`)

	events, err := ParseMessage(raw, fallback)
	require.NoError(t, err)
	require.Len(t, events.Prices, 1)
	assert.Equal(t, "2", events.Prices[0].AssetID)
}

func TestParseMessage_InvalidJSON(t *testing.T) {
	_, err := ParseMessage([]byte(`[{"event_type":`), fallback)
	require.Error(t, err)
}

func TestIsControlText(t *testing.T) {
	assert.True(t, IsControlText([]byte("PONG")))
	assert.True(t, IsControlText([]byte("Server PONG ack")))
	assert.True(t, IsControlText([]byte("INVALID OPERATION")))
	assert.True(t, IsControlText([]byte("OK")))
	assert.False(t, IsControlText([]byte(`{"event_type":"book"}`)))
}
