package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

// MarketStore provides access to markets and market_tokens storage.
type MarketStore interface {
	// UpsertMarket inserts or refreshes a market keyed by (source, source_id)
	// and returns its internal id.
	UpsertMarket(ctx context.Context, m *domain.Market) (uuid.UUID, error)

	// UpsertToken inserts or refreshes an outcome token keyed by
	// (market_id, outcome) and returns its internal id.
	UpsertToken(ctx context.Context, t *domain.Token) (uuid.UUID, error)

	// ActiveTokens returns the subscription universe for a venue: every token
	// of an active market, joined with its last persisted snapshot state,
	// most recently active first.
	ActiveTokens(ctx context.Context, source domain.Source) ([]*domain.ActiveToken, error)

	// MarkResolved flags a market resolved with its outcome.
	// Returns ErrNotFound when (source, source_id) is unknown.
	MarkResolved(ctx context.Context, source domain.Source, sourceID, outcome string, resolvedAt time.Time) error
}

// SnapshotStore provides access to snapshots storage.
type SnapshotStore interface {
	// InsertBatch adds snapshots, silently skipping (token_id, ts) duplicates.
	// Returns the number of rows actually inserted.
	InsertBatch(ctx context.Context, snaps []*domain.Snapshot) (int64, error)

	// Latest retrieves the most recent snapshot for a token.
	// Returns ErrNotFound if the token has no snapshots.
	Latest(ctx context.Context, tokenID uuid.UUID) (*domain.Snapshot, error)

	// AtOrBefore retrieves the newest snapshot at or before ts.
	// Returns ErrNotFound if none exists.
	AtOrBefore(ctx context.Context, tokenID uuid.UUID, ts time.Time) (*domain.Snapshot, error)

	// MoversWindow returns, per token of an active market, the latest
	// snapshot joined with the snapshot at or before now-window.
	MoversWindow(ctx context.Context, window time.Duration) ([]*domain.MoverRow, error)
}

// VolumeStore provides access to trade volume accumulation and spike storage.
type VolumeStore interface {
	// AccumulateTradeVolume atomically adds notional to a token's running
	// counter and its hourly bucket.
	AccumulateTradeVolume(ctx context.Context, tokenID uuid.UUID, notional float64, ts time.Time) error

	// SpikeCandidates returns tokens whose last-24h volume divided by their
	// 7-day average (last 24h excluded) clears minRatio, with current volume
	// at least minVolume.
	SpikeCandidates(ctx context.Context, minRatio, minVolume float64) ([]*domain.SpikeCandidate, error)

	// InsertSpike records a detected volume spike.
	InsertSpike(ctx context.Context, s *domain.VolumeSpike) error

	// RecentSpikeForToken retrieves the newest spike for a token within the
	// lookback. Returns ErrNotFound if none exists.
	RecentSpikeForToken(ctx context.Context, tokenID uuid.UUID, lookback time.Duration) (*domain.VolumeSpike, error)
}

// AnalyticsStore provides access to the mover cache and alerts storage.
type AnalyticsStore interface {
	// InsertMoverRows appends one cache generation. All rows must share the
	// same as_of_ts; readers only ever see the newest generation per window.
	InsertMoverRows(ctx context.Context, rows []*domain.MoverCacheRow) error

	// CachedMovers returns the newest generation for a window, rank ascending.
	CachedMovers(ctx context.Context, windowSeconds int) ([]*domain.MoverCacheRow, error)

	// InsertAlert appends an alert.
	InsertAlert(ctx context.Context, a *domain.Alert) error

	// RecentAlertForToken retrieves the newest alert of a type for a token
	// and window within the lookback. Returns ErrNotFound if none exists.
	RecentAlertForToken(ctx context.Context, tokenID uuid.UUID, windowSeconds int, alertType string, lookback time.Duration) (*domain.Alert, error)
}

// ArbitrageStore provides access to market pairs and opportunity storage.
type ArbitrageStore interface {
	// UpsertPair links a Polymarket market with its Kalshi counterpart and
	// returns the pair id. Re-linking an existing pair reactivates it.
	UpsertPair(ctx context.Context, polymarketMarketID, kalshiMarketID uuid.UUID) (uuid.UUID, error)

	// ActivePairs returns enabled cross-venue pairs joined with the latest
	// YES price and volume seen on each side.
	ActivePairs(ctx context.Context) ([]*domain.MarketPair, error)

	// RecordOpportunity appends a detected opportunity.
	RecordOpportunity(ctx context.Context, o *domain.ArbitrageOpportunity) error

	// ExpireOld deletes opportunities whose expires_at has passed.
	// Returns the number of rows deleted.
	ExpireOld(ctx context.Context, now time.Time) (int64, error)
}

// StatsStore provides access to per-token volatility baseline storage.
type StatsStore interface {
	// HourlyCloses returns hourly snapshot closes for a token within the
	// lookback, oldest first, each paired with the previous hour's close.
	HourlyCloses(ctx context.Context, tokenID uuid.UUID, lookback time.Duration) ([]*domain.HourlySample, error)

	// UpsertStats inserts or replaces a token's baseline.
	UpsertStats(ctx context.Context, st *domain.MarketStats) error

	// StatsMap returns all baselines keyed by token id.
	StatsMap(ctx context.Context) (map[uuid.UUID]*domain.MarketStats, error)

	// TokensWithSnapshots returns ids of tokens that have any snapshot
	// within the lookback.
	TokensWithSnapshots(ctx context.Context, lookback time.Duration) ([]uuid.UUID, error)
}

// CandleStore provides access to OHLC rollup storage.
type CandleStore interface {
	// Rollup1m upserts 1-minute candles from snapshots newer than since.
	// Re-running over the same range is idempotent. Returns rows upserted.
	Rollup1m(ctx context.Context, since time.Time) (int64, error)

	// Rollup5m derives 5-minute candles from 1-minute candles newer than since.
	Rollup5m(ctx context.Context, since time.Time) (int64, error)

	// Rollup1h derives 1-hour candles from 1-minute candles newer than since.
	Rollup1h(ctx context.Context, since time.Time) (int64, error)

	// Candles returns candles for a token in [from, to), oldest first.
	// Interval is one of "1m", "5m", "1h".
	Candles(ctx context.Context, interval string, tokenID uuid.UUID, from, to time.Time) ([]*domain.Candle, error)
}

// StatusStore provides access to system_status key/value telemetry.
type StatusStore interface {
	// UpsertStatus stores value as JSON under key.
	UpsertStatus(ctx context.Context, key string, value any) error

	// GetStatus retrieves the raw JSON stored under key.
	// Returns ErrNotFound if the key does not exist.
	GetStatus(ctx context.Context, key string) (json.RawMessage, error)
}

// RetentionStore provides the raw deletion and sizing operations the
// retention job runs against arbitrary tables.
type RetentionStore interface {
	// DeleteOlderThanBatch deletes up to batch rows whose column is older
	// than cutoff. Returns rows deleted; callers loop until zero.
	DeleteOlderThanBatch(ctx context.Context, table, column string, cutoff time.Time, batch int) (int64, error)

	// DeleteOlderThan deletes all rows older than cutoff in one statement.
	DeleteOlderThan(ctx context.Context, table, column string, cutoff time.Time) (int64, error)

	// TableExists reports whether a table is present in the schema.
	TableExists(ctx context.Context, table string) (bool, error)

	// TableSizes returns on-disk bytes per table.
	TableSizes(ctx context.Context, tables []string) (map[string]int64, error)

	// DatabaseSize returns total database bytes.
	DatabaseSize(ctx context.Context) (int64, error)
}
