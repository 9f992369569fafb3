package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

func TestVolumeStore_AccumulateTradeVolume(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "vol-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "vol-asset")

	store := NewVolumeStore(pool)
	now := time.Now().UTC()

	require.NoError(t, store.AccumulateTradeVolume(ctx, tokenID, 50.0, now))
	require.NoError(t, store.AccumulateTradeVolume(ctx, tokenID, 25.0, now))

	var total float64
	var count int64
	err := pool.QueryRow(ctx,
		`SELECT total_notional, trade_count FROM trade_volumes WHERE token_id = $1`,
		tokenID).Scan(&total, &count)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, total, 1e-9)
	assert.EqualValues(t, 2, count)

	// Both trades land in the same hourly bucket.
	var hourly float64
	err = pool.QueryRow(ctx,
		`SELECT notional FROM volume_hourly WHERE token_id = $1 AND hour_ts = date_trunc('hour', $2::timestamptz)`,
		tokenID, now).Scan(&hourly)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, hourly, 1e-9)
}

func TestVolumeStore_NegativeNotionalRejected(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "neg-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "neg-asset")

	store := NewVolumeStore(pool)
	err := store.AccumulateTradeVolume(ctx, tokenID, -1.0, time.Now())
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestVolumeStore_SpikeCandidates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "spike-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "spike-asset")

	store := NewVolumeStore(pool)
	now := time.Now().UTC()

	// Baseline: 600 notional spread over the 6 days before the last 24h,
	// so avg daily = 100.
	for day := 2; day <= 7; day++ {
		require.NoError(t, store.AccumulateTradeVolume(ctx, tokenID, 100.0, now.Add(-time.Duration(day)*24*time.Hour)))
	}
	// Current 24h: 500 notional, ratio 5.0.
	require.NoError(t, store.AccumulateTradeVolume(ctx, tokenID, 500.0, now.Add(-time.Hour)))

	candidates, err := store.SpikeCandidates(ctx, 2.0, 100.0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, tokenID, c.TokenID)
	assert.InDelta(t, 500.0, c.CurrentVolume, 1e-9)
	assert.InDelta(t, 100.0, c.AvgVolume, 1e-9)
	assert.InDelta(t, 5.0, c.SpikeRatio, 1e-9)

	// A tighter ratio threshold filters it out.
	candidates, err = store.SpikeCandidates(ctx, 6.0, 100.0)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// So does a volume floor above current volume.
	candidates, err = store.SpikeCandidates(ctx, 2.0, 1000.0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestVolumeStore_InsertAndRecentSpike(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "recent-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "recent-asset")

	store := NewVolumeStore(pool)

	_, err := store.RecentSpikeForToken(ctx, tokenID, time.Hour)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.InsertSpike(ctx, &domain.VolumeSpike{
		TokenID:       tokenID,
		CurrentVolume: 5000,
		AvgVolume:     1000,
		SpikeRatio:    5.0,
		CurrentPrice:  ptr(0.65),
		Severity:      domain.SpikeSeverityHigh,
	}))

	sp, err := store.RecentSpikeForToken(ctx, tokenID, time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, sp.SpikeRatio, 1e-9)
	assert.Equal(t, domain.SpikeSeverityHigh, sp.Severity)
	require.NotNil(t, sp.CurrentPrice)
	assert.InDelta(t, 0.65, *sp.CurrentPrice, 1e-9)
	assert.False(t, sp.CreatedAt.IsZero())
}
