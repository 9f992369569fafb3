package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

func TestArbitrageStore_ActivePairs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	polyID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "pair-poly")
	kalshiID := createTestMarket(t, ctx, pool, domain.SourceKalshi, "pair-kalshi")
	polyToken := createTestToken(t, ctx, pool, polyID, "pair-poly-yes")
	kalshiToken := createTestToken(t, ctx, pool, kalshiID, "pair-kalshi-yes")

	store := NewArbitrageStore(pool)
	pairID, err := store.UpsertPair(ctx, polyID, kalshiID)
	require.NoError(t, err)

	// Re-linking keeps the same pair id.
	again, err := store.UpsertPair(ctx, polyID, kalshiID)
	require.NoError(t, err)
	assert.Equal(t, pairID, again)

	snapStore := NewSnapshotStore(pool)
	now := time.Now().UTC().Truncate(time.Second)
	_, err = snapStore.InsertBatch(ctx, []*domain.Snapshot{
		{TokenID: polyToken, Ts: now, Price: 0.40, Volume24h: ptr(2000.0)},
		{TokenID: kalshiToken, Ts: now, Price: 0.50, Volume24h: ptr(3000.0)},
	})
	require.NoError(t, err)

	pairs, err := store.ActivePairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	p := pairs[0]
	assert.Equal(t, pairID, p.PairID)
	require.NotNil(t, p.PolymarketYesPrice)
	assert.InDelta(t, 0.40, *p.PolymarketYesPrice, 1e-9)
	require.NotNil(t, p.KalshiYesPrice)
	assert.InDelta(t, 0.50, *p.KalshiYesPrice, 1e-9)
	require.NotNil(t, p.PolymarketVolume)
	assert.InDelta(t, 2000.0, *p.PolymarketVolume, 1e-9)
}

func TestArbitrageStore_RecordAndExpire(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	polyID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "exp-poly")
	kalshiID := createTestMarket(t, ctx, pool, domain.SourceKalshi, "exp-kalshi")

	store := NewArbitrageStore(pool)
	pairID, err := store.UpsertPair(ctx, polyID, kalshiID)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.RecordOpportunity(ctx, &domain.ArbitrageOpportunity{
		PairID:             pairID,
		ArbitrageType:      domain.ArbitrageTypeYesNo,
		PolymarketYesPrice: 0.40,
		PolymarketNoPrice:  0.60,
		KalshiYesPrice:     0.50,
		KalshiNoPrice:      0.50,
		TotalCost:          0.90,
		ProfitMargin:       0.10,
		ProfitPercentage:   11.11,
		DetectedAt:         now,
		ExpiresAt:          now.Add(-time.Minute), // already expired
	}))
	require.NoError(t, store.RecordOpportunity(ctx, &domain.ArbitrageOpportunity{
		PairID:             pairID,
		ArbitrageType:      domain.ArbitrageTypeNoYes,
		PolymarketYesPrice: 0.55,
		PolymarketNoPrice:  0.45,
		KalshiYesPrice:     0.50,
		KalshiNoPrice:      0.50,
		TotalCost:          0.95,
		ProfitMargin:       0.05,
		ProfitPercentage:   5.26,
		DetectedAt:         now,
		ExpiresAt:          now.Add(5 * time.Minute),
	}))

	deleted, err := store.ExpireOld(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM arbitrage_opportunities`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
