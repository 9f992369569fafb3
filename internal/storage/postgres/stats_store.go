package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// StatsStore implements storage.StatsStore using PostgreSQL.
type StatsStore struct {
	pool *Pool
}

// NewStatsStore creates a new StatsStore.
func NewStatsStore(pool *Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StatsStore = (*StatsStore)(nil)

// HourlyCloses returns the last snapshot of each hour for a token within the
// lookback, oldest first, with the previous hour's close attached via LAG.
func (s *StatsStore) HourlyCloses(ctx context.Context, tokenID uuid.UUID, lookback time.Duration) ([]*domain.HourlySample, error) {
	query := `
		WITH hourly AS (
			SELECT DISTINCT ON (date_trunc('hour', ts))
				date_trunc('hour', ts) AS hour_ts,
				price AS close,
				volume_24h
			FROM snapshots
			WHERE token_id = $1 AND ts >= now() - $2::interval
			ORDER BY date_trunc('hour', ts), ts DESC
		)
		SELECT hour_ts, close,
		       LAG(close) OVER (ORDER BY hour_ts),
		       volume_24h
		FROM hourly
		ORDER BY hour_ts ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID, lookback)
	if err != nil {
		return nil, fmt.Errorf("query hourly closes: %w", err)
	}
	defer rows.Close()

	var samples []*domain.HourlySample
	for rows.Next() {
		var h domain.HourlySample
		if err := rows.Scan(&h.HourTs, &h.Close, &h.PrevClose, &h.Volume24h); err != nil {
			return nil, fmt.Errorf("scan hourly sample row: %w", err)
		}
		samples = append(samples, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hourly sample rows: %w", err)
	}
	return samples, nil
}

// UpsertStats inserts or replaces a token's volatility baseline.
func (s *StatsStore) UpsertStats(ctx context.Context, st *domain.MarketStats) error {
	query := `
		INSERT INTO market_stats (
			token_id, avg_move_pp, stddev_move_pp, max_move_pp,
			avg_log_odds, stddev_log_odds, avg_volume, stddev_volume,
			sample_count, has_sufficient_data, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (token_id) DO UPDATE SET
			avg_move_pp         = EXCLUDED.avg_move_pp,
			stddev_move_pp      = EXCLUDED.stddev_move_pp,
			max_move_pp         = EXCLUDED.max_move_pp,
			avg_log_odds        = EXCLUDED.avg_log_odds,
			stddev_log_odds     = EXCLUDED.stddev_log_odds,
			avg_volume          = EXCLUDED.avg_volume,
			stddev_volume       = EXCLUDED.stddev_volume,
			sample_count        = EXCLUDED.sample_count,
			has_sufficient_data = EXCLUDED.has_sufficient_data,
			last_updated        = now()
	`

	_, err := s.pool.Exec(ctx, query,
		st.TokenID, st.AvgMovePP, st.StddevMovePP, st.MaxMovePP,
		st.AvgLogOdds, st.StddevLogOdds, st.AvgVolume, st.StddevVolume,
		st.SampleCount, st.HasSufficientData,
	)
	if err != nil {
		return fmt.Errorf("upsert market stats: %w", err)
	}
	return nil
}

// StatsMap returns all baselines keyed by token id.
func (s *StatsStore) StatsMap(ctx context.Context) (map[uuid.UUID]*domain.MarketStats, error) {
	query := `
		SELECT token_id, avg_move_pp, stddev_move_pp, max_move_pp,
		       avg_log_odds, stddev_log_odds, avg_volume, stddev_volume,
		       sample_count, has_sufficient_data, last_updated
		FROM market_stats
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query market stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[uuid.UUID]*domain.MarketStats)
	for rows.Next() {
		var st domain.MarketStats
		if err := rows.Scan(
			&st.TokenID, &st.AvgMovePP, &st.StddevMovePP, &st.MaxMovePP,
			&st.AvgLogOdds, &st.StddevLogOdds, &st.AvgVolume, &st.StddevVolume,
			&st.SampleCount, &st.HasSufficientData, &st.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan market stats row: %w", err)
		}
		stats[st.TokenID] = &st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market stats rows: %w", err)
	}
	return stats, nil
}

// TokensWithSnapshots returns ids of tokens with any snapshot in the lookback.
func (s *StatsStore) TokensWithSnapshots(ctx context.Context, lookback time.Duration) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT token_id
		FROM snapshots
		WHERE ts >= now() - $1::interval
	`

	rows, err := s.pool.Query(ctx, query, lookback)
	if err != nil {
		return nil, fmt.Errorf("query tokens with snapshots: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan token id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token id rows: %w", err)
	}
	return ids, nil
}
