package jobs

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage/memory"
)

// fixture wires every memory store around one shared DB.
type fixture struct {
	db      *memory.DB
	markets *memory.MarketStore
	snaps   *memory.SnapshotStore
	volumes *memory.VolumeStore
	store   *memory.AnalyticsStore
	arb     *memory.ArbitrageStore
	stats   *memory.StatsStore
	status  *memory.StatusStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	return &fixture{
		db:      db,
		markets: memory.NewMarketStore(db),
		snaps:   memory.NewSnapshotStore(db),
		volumes: memory.NewVolumeStore(db),
		store:   memory.NewAnalyticsStore(db),
		arb:     memory.NewArbitrageStore(db),
		stats:   memory.NewStatsStore(db),
		status:  memory.NewStatusStore(db),
	}
}

// seedToken creates an active market with one YES token and returns both ids.
func (f *fixture) seedToken(t *testing.T, source domain.Source, title string, endDate *time.Time) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	marketID, err := f.markets.UpsertMarket(ctx, &domain.Market{
		Source:   source,
		SourceID: title,
		Title:    title,
		Status:   domain.MarketStatusActive,
		EndDate:  endDate,
	})
	require.NoError(t, err)
	tokenID, err := f.markets.UpsertToken(ctx, &domain.Token{
		MarketID:      marketID,
		Outcome:       domain.OutcomeYes,
		SourceTokenID: title + "-yes",
	})
	require.NoError(t, err)
	return marketID, tokenID
}

// seedSnapshot writes one snapshot at ts.
func (f *fixture) seedSnapshot(t *testing.T, tokenID uuid.UUID, ts time.Time, price float64, volume *float64) {
	t.Helper()
	_, err := f.snaps.InsertBatch(context.Background(), []*domain.Snapshot{{
		TokenID:   tokenID,
		Ts:        ts,
		Price:     price,
		Volume24h: volume,
	}})
	require.NoError(t, err)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry(), "test")
}

func f64(v float64) *float64 { return &v }

func tsAgo(d time.Duration) time.Time { return time.Now().UTC().Add(-d) }
