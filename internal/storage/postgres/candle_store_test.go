package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

func TestCandleStore_Rollup1m(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "candle-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "candle-asset")

	snapStore := NewSnapshotStore(pool)
	store := NewCandleStore(pool)

	minute := time.Now().UTC().Truncate(time.Minute).Add(-10 * time.Minute)
	_, err := snapStore.InsertBatch(ctx, []*domain.Snapshot{
		{TokenID: tokenID, Ts: minute.Add(5 * time.Second), Price: 0.50, Volume24h: ptr(1000.0)},
		{TokenID: tokenID, Ts: minute.Add(20 * time.Second), Price: 0.55, Volume24h: ptr(1200.0)},
		{TokenID: tokenID, Ts: minute.Add(40 * time.Second), Price: 0.48, Volume24h: ptr(1100.0)},
	})
	require.NoError(t, err)

	upserted, err := store.Rollup1m(ctx, minute.Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, upserted)

	candles, err := store.Candles(ctx, "1m", tokenID, minute, minute.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, candles, 1)

	c := candles[0]
	assert.InDelta(t, 0.50, c.Open, 1e-9)
	assert.InDelta(t, 0.55, c.High, 1e-9)
	assert.InDelta(t, 0.48, c.Low, 1e-9)
	assert.InDelta(t, 0.48, c.Close, 1e-9)
	require.NotNil(t, c.Volume)
	assert.InDelta(t, 1200.0, *c.Volume, 1e-9)
}

func TestCandleStore_Rollup1mIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "idem-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "idem-asset")

	snapStore := NewSnapshotStore(pool)
	store := NewCandleStore(pool)

	minute := time.Now().UTC().Truncate(time.Minute).Add(-10 * time.Minute)
	_, err := snapStore.InsertBatch(ctx, []*domain.Snapshot{
		{TokenID: tokenID, Ts: minute.Add(10 * time.Second), Price: 0.30, Volume24h: ptr(500.0)},
		{TokenID: tokenID, Ts: minute.Add(30 * time.Second), Price: 0.35, Volume24h: ptr(600.0)},
	})
	require.NoError(t, err)

	_, err = store.Rollup1m(ctx, minute.Add(-time.Minute))
	require.NoError(t, err)
	first, err := store.Candles(ctx, "1m", tokenID, minute, minute.Add(time.Minute))
	require.NoError(t, err)

	// Re-running over the same range changes nothing.
	_, err = store.Rollup1m(ctx, minute.Add(-time.Minute))
	require.NoError(t, err)
	second, err := store.Candles(ctx, "1m", tokenID, minute, minute.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].Open, second[0].Open)
	assert.Equal(t, first[0].High, second[0].High)
	assert.Equal(t, first[0].Low, second[0].Low)
	assert.Equal(t, first[0].Close, second[0].Close)
	assert.Equal(t, *first[0].Volume, *second[0].Volume)
}

func TestCandleStore_Rollup1mExtendsBucket(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "extend-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "extend-asset")

	snapStore := NewSnapshotStore(pool)
	store := NewCandleStore(pool)

	minute := time.Now().UTC().Truncate(time.Minute).Add(-10 * time.Minute)
	_, err := snapStore.InsertBatch(ctx, []*domain.Snapshot{
		{TokenID: tokenID, Ts: minute.Add(5 * time.Second), Price: 0.50},
	})
	require.NoError(t, err)
	_, err = store.Rollup1m(ctx, minute.Add(-time.Minute))
	require.NoError(t, err)

	// A later snapshot in the same bucket extends high/close but keeps open.
	_, err = snapStore.InsertBatch(ctx, []*domain.Snapshot{
		{TokenID: tokenID, Ts: minute.Add(45 * time.Second), Price: 0.70},
	})
	require.NoError(t, err)
	_, err = store.Rollup1m(ctx, minute.Add(-time.Minute))
	require.NoError(t, err)

	candles, err := store.Candles(ctx, "1m", tokenID, minute, minute.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.InDelta(t, 0.50, candles[0].Open, 1e-9)
	assert.InDelta(t, 0.70, candles[0].High, 1e-9)
	assert.InDelta(t, 0.70, candles[0].Close, 1e-9)
}

func TestCandleStore_Rollup5mAnd1h(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "derive-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "derive-asset")

	snapStore := NewSnapshotStore(pool)
	store := NewCandleStore(pool)

	// Two snapshots in different minutes of the same 5m bucket.
	base := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)
	_, err := snapStore.InsertBatch(ctx, []*domain.Snapshot{
		{TokenID: tokenID, Ts: base.Add(1 * time.Minute), Price: 0.40, Volume24h: ptr(100.0)},
		{TokenID: tokenID, Ts: base.Add(3 * time.Minute), Price: 0.45, Volume24h: ptr(200.0)},
	})
	require.NoError(t, err)

	_, err = store.Rollup1m(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	_, err = store.Rollup5m(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	_, err = store.Rollup1h(ctx, base.Add(-time.Minute))
	require.NoError(t, err)

	fives, err := store.Candles(ctx, "5m", tokenID, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, fives, 1)
	assert.InDelta(t, 0.40, fives[0].Open, 1e-9)
	assert.InDelta(t, 0.45, fives[0].Close, 1e-9)
	require.NotNil(t, fives[0].Volume)
	assert.InDelta(t, 200.0, *fives[0].Volume, 1e-9)

	hours, err := store.Candles(ctx, "1h", tokenID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, hours, 1)
	assert.InDelta(t, 0.40, hours[0].Open, 1e-9)
	assert.InDelta(t, 0.45, hours[0].High, 1e-9)
}

func TestCandleStore_UnknownInterval(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandleStore(pool)
	_, err := store.Candles(context.Background(), "2m", uuid.Nil, time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}
