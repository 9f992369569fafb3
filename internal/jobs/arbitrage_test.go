package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

func arbConfig() config.ArbitrageConfig {
	return config.ArbitrageConfig{
		MinMargin: 0.002,
		MinVolume: 100.0,
		Expiry:    5 * time.Minute,
	}
}

// seedPair links a Polymarket and Kalshi market and prices their YES legs.
func seedPair(t *testing.T, f *fixture, polyYes, kalshiYes float64, volume float64) {
	t.Helper()
	polyID, polyTok := f.seedToken(t, domain.SourcePolymarket, "US recession in 2026 (PM)", nil)
	kalshiID, kalshiTok := f.seedToken(t, domain.SourceKalshi, "US recession in 2026 (K)", nil)
	_, err := f.arb.UpsertPair(context.Background(), polyID, kalshiID)
	require.NoError(t, err)

	f.seedSnapshot(t, polyTok, tsAgo(time.Minute), polyYes, f64(volume))
	f.seedSnapshot(t, kalshiTok, tsAgo(time.Minute), kalshiYes, f64(volume))
}

func TestArbitrageJob_RecordsYesNoHedge(t *testing.T) {
	f := newFixture(t)
	// Buy Polymarket YES at 0.40 and Kalshi NO at 0.50: total 0.90.
	seedPair(t, f, 0.40, 0.50, 10000)

	job := NewArbitrageJob(arbConfig(), f.arb, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))

	opps := f.arb.Opportunities()
	require.Len(t, opps, 1)
	o := opps[0]
	assert.Equal(t, domain.ArbitrageTypeYesNo, o.ArbitrageType)
	assert.InDelta(t, 0.90, o.TotalCost, 1e-9)
	assert.InDelta(t, 0.10, o.ProfitMargin, 1e-9)
	assert.InDelta(t, 11.11, o.ProfitPercentage, 0.01)
	assert.InDelta(t, 5*time.Minute, o.ExpiresAt.Sub(o.DetectedAt), float64(time.Second))
}

func TestArbitrageJob_PicksCheaperDirection(t *testing.T) {
	f := newFixture(t)
	// Polymarket NO at 0.35 plus Kalshi YES at 0.55: total 0.90 via NO_YES.
	seedPair(t, f, 0.65, 0.55, 10000)

	job := NewArbitrageJob(arbConfig(), f.arb, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))

	opps := f.arb.Opportunities()
	require.Len(t, opps, 1)
	assert.Equal(t, domain.ArbitrageTypeNoYes, opps[0].ArbitrageType)
	assert.InDelta(t, 0.90, opps[0].TotalCost, 1e-9)
}

func TestArbitrageJob_NoOpportunityAtFairPrices(t *testing.T) {
	f := newFixture(t)
	// 0.48 + (1-0.49) = 0.99, margin 0.01 still qualifies; push it to parity.
	seedPair(t, f, 0.50, 0.50, 10000)

	job := NewArbitrageJob(arbConfig(), f.arb, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, f.arb.Opportunities())
}

func TestArbitrageJob_ThinVenueRejected(t *testing.T) {
	f := newFixture(t)
	seedPair(t, f, 0.40, 0.50, 50) // below min volume on both legs

	job := NewArbitrageJob(arbConfig(), f.arb, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, f.arb.Opportunities())
}

func TestArbitrageJob_SweepsExpired(t *testing.T) {
	f := newFixture(t)

	polyID, _ := f.seedToken(t, domain.SourcePolymarket, "Old pair (PM)", nil)
	kalshiID, _ := f.seedToken(t, domain.SourceKalshi, "Old pair (K)", nil)
	pairID, err := f.arb.UpsertPair(context.Background(), polyID, kalshiID)
	require.NoError(t, err)

	require.NoError(t, f.arb.RecordOpportunity(context.Background(), &domain.ArbitrageOpportunity{
		PairID:        pairID,
		ArbitrageType: domain.ArbitrageTypeYesNo,
		TotalCost:     0.95,
		ProfitMargin:  0.05,
		DetectedAt:    tsAgo(time.Hour),
		ExpiresAt:     tsAgo(55 * time.Minute),
	}))

	job := NewArbitrageJob(arbConfig(), f.arb, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, f.arb.Opportunities(), "expired rows are swept each cycle")
}
