package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
//
// Candle volume is the largest rolling 24h-volume observation seen inside the
// bucket, not a traded sum; GREATEST on conflict keeps re-runs idempotent.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Rollup1m upserts 1-minute candles from snapshots newer than since.
func (s *CandleStore) Rollup1m(ctx context.Context, since time.Time) (int64, error) {
	query := `
		INSERT INTO ohlc_1m (token_id, bucket_ts, open, high, low, close, volume)
		SELECT token_id, date_trunc('minute', ts),
		       (array_agg(price ORDER BY ts ASC))[1],
		       MAX(price),
		       MIN(price),
		       (array_agg(price ORDER BY ts DESC))[1],
		       MAX(volume_24h)
		FROM snapshots
		WHERE ts >= $1
		GROUP BY token_id, date_trunc('minute', ts)
		ON CONFLICT (token_id, bucket_ts) DO UPDATE SET
			high   = GREATEST(ohlc_1m.high, EXCLUDED.high),
			low    = LEAST(ohlc_1m.low, EXCLUDED.low),
			close  = EXCLUDED.close,
			volume = GREATEST(
				COALESCE(ohlc_1m.volume, EXCLUDED.volume),
				COALESCE(EXCLUDED.volume, ohlc_1m.volume)
			)
	`

	tag, err := s.pool.Exec(ctx, query, since)
	if err != nil {
		return 0, fmt.Errorf("rollup 1m candles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Rollup5m derives 5-minute candles from 1-minute candles newer than since.
func (s *CandleStore) Rollup5m(ctx context.Context, since time.Time) (int64, error) {
	return s.rollupFrom1m(ctx, "ohlc_5m", "5 minutes", since)
}

// Rollup1h derives 1-hour candles from 1-minute candles newer than since.
func (s *CandleStore) Rollup1h(ctx context.Context, since time.Time) (int64, error) {
	return s.rollupFrom1m(ctx, "ohlc_1h", "1 hour", since)
}

func (s *CandleStore) rollupFrom1m(ctx context.Context, table, width string, since time.Time) (int64, error) {
	// Table and width come from the two callers above, never from input.
	query := fmt.Sprintf(`
		INSERT INTO %s (token_id, bucket_ts, open, high, low, close, volume)
		SELECT token_id,
		       to_timestamp(floor(extract(epoch FROM bucket_ts) / extract(epoch FROM interval '%s')) * extract(epoch FROM interval '%s')),
		       (array_agg(open ORDER BY bucket_ts ASC))[1],
		       MAX(high),
		       MIN(low),
		       (array_agg(close ORDER BY bucket_ts DESC))[1],
		       MAX(volume)
		FROM ohlc_1m
		WHERE bucket_ts >= $1
		GROUP BY token_id, 2
		ON CONFLICT (token_id, bucket_ts) DO UPDATE SET
			high   = GREATEST(%s.high, EXCLUDED.high),
			low    = LEAST(%s.low, EXCLUDED.low),
			close  = EXCLUDED.close,
			volume = GREATEST(
				COALESCE(%s.volume, EXCLUDED.volume),
				COALESCE(EXCLUDED.volume, %s.volume)
			)
	`, table, width, width, table, table, table, table)

	tag, err := s.pool.Exec(ctx, query, since)
	if err != nil {
		return 0, fmt.Errorf("rollup %s candles: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

var candleTables = map[string]string{
	"1m": "ohlc_1m",
	"5m": "ohlc_5m",
	"1h": "ohlc_1h",
}

// Candles returns candles for a token in [from, to), oldest first.
func (s *CandleStore) Candles(ctx context.Context, interval string, tokenID uuid.UUID, from, to time.Time) ([]*domain.Candle, error) {
	table, ok := candleTables[interval]
	if !ok {
		return nil, fmt.Errorf("%w: unknown candle interval %q", storage.ErrInvalidInput, interval)
	}

	query := fmt.Sprintf(`
		SELECT token_id, bucket_ts, open, high, low, close, volume
		FROM %s
		WHERE token_id = $1 AND bucket_ts >= $2 AND bucket_ts < $3
		ORDER BY bucket_ts ASC
	`, table)

	rows, err := s.pool.Query(ctx, query, tokenID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s candles: %w", table, err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.TokenID, &c.BucketTs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
