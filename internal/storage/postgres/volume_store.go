package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// VolumeStore implements storage.VolumeStore using PostgreSQL.
type VolumeStore struct {
	pool *Pool
}

// NewVolumeStore creates a new VolumeStore.
func NewVolumeStore(pool *Pool) *VolumeStore {
	return &VolumeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.VolumeStore = (*VolumeStore)(nil)

// AccumulateTradeVolume atomically adds notional to both the running counter
// and the trade's hourly bucket.
func (s *VolumeStore) AccumulateTradeVolume(ctx context.Context, tokenID uuid.UUID, notional float64, ts time.Time) error {
	if notional < 0 {
		return fmt.Errorf("%w: negative notional", storage.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trade_volumes (token_id, total_notional, trade_count, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (token_id) DO UPDATE SET
			total_notional = trade_volumes.total_notional + EXCLUDED.total_notional,
			trade_count    = trade_volumes.trade_count + 1,
			updated_at     = now()
	`, tokenID, notional)
	if err != nil {
		return fmt.Errorf("accumulate trade volume: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO volume_hourly (token_id, hour_ts, notional, trade_count)
		VALUES ($1, date_trunc('hour', $2::timestamptz), $3, 1)
		ON CONFLICT (token_id, hour_ts) DO UPDATE SET
			notional    = volume_hourly.notional + EXCLUDED.notional,
			trade_count = volume_hourly.trade_count + 1
	`, tokenID, ts, notional)
	if err != nil {
		return fmt.Errorf("accumulate hourly volume: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SpikeCandidates compares each token's last-24h volume against its average
// daily volume over the preceding 6 days. The last 24h is excluded from the
// baseline so the spike itself cannot inflate its own denominator.
func (s *VolumeStore) SpikeCandidates(ctx context.Context, minRatio, minVolume float64) ([]*domain.SpikeCandidate, error) {
	query := `
		WITH current AS (
			SELECT token_id, SUM(notional) AS vol
			FROM volume_hourly
			WHERE hour_ts >= now() - interval '24 hours'
			GROUP BY token_id
		),
		baseline AS (
			SELECT token_id, SUM(notional) / 6.0 AS avg_daily
			FROM volume_hourly
			WHERE hour_ts >= now() - interval '7 days'
			  AND hour_ts < now() - interval '24 hours'
			GROUP BY token_id
		)
		SELECT c.token_id, c.vol, b.avg_daily, c.vol / b.avg_daily,
		       ls.price, m.title, t.outcome
		FROM current c
		JOIN baseline b ON b.token_id = c.token_id AND b.avg_daily > 0
		JOIN market_tokens t ON t.token_id = c.token_id
		JOIN markets m ON m.market_id = t.market_id AND m.status = 'active'
		LEFT JOIN LATERAL (
			SELECT price
			FROM snapshots
			WHERE token_id = c.token_id
			ORDER BY ts DESC
			LIMIT 1
		) ls ON true
		WHERE c.vol >= $2 AND c.vol / b.avg_daily >= $1
		ORDER BY c.vol / b.avg_daily DESC
	`

	rows, err := s.pool.Query(ctx, query, minRatio, minVolume)
	if err != nil {
		return nil, fmt.Errorf("query spike candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*domain.SpikeCandidate
	for rows.Next() {
		var c domain.SpikeCandidate
		if err := rows.Scan(
			&c.TokenID, &c.CurrentVolume, &c.AvgVolume, &c.SpikeRatio,
			&c.CurrentPrice, &c.Title, &c.Outcome,
		); err != nil {
			return nil, fmt.Errorf("scan spike candidate row: %w", err)
		}
		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spike candidate rows: %w", err)
	}
	return candidates, nil
}

// InsertSpike records a detected volume spike.
func (s *VolumeStore) InsertSpike(ctx context.Context, sp *domain.VolumeSpike) error {
	query := `
		INSERT INTO volume_spikes (
			token_id, current_volume, avg_volume, spike_ratio,
			current_price, price_change_1h, severity
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		sp.TokenID, sp.CurrentVolume, sp.AvgVolume, sp.SpikeRatio,
		sp.CurrentPrice, sp.PriceChange1h, sp.Severity,
	)
	if err != nil {
		return fmt.Errorf("insert volume spike: %w", err)
	}
	return nil
}

// RecentSpikeForToken retrieves the newest spike for a token within the lookback.
func (s *VolumeStore) RecentSpikeForToken(ctx context.Context, tokenID uuid.UUID, lookback time.Duration) (*domain.VolumeSpike, error) {
	query := `
		SELECT spike_id, token_id, current_volume, avg_volume, spike_ratio,
		       current_price, price_change_1h, severity, created_at
		FROM volume_spikes
		WHERE token_id = $1 AND created_at >= now() - $2::interval
		ORDER BY created_at DESC
		LIMIT 1
	`

	var sp domain.VolumeSpike
	err := s.pool.QueryRow(ctx, query, tokenID, lookback).Scan(
		&sp.SpikeID, &sp.TokenID, &sp.CurrentVolume, &sp.AvgVolume, &sp.SpikeRatio,
		&sp.CurrentPrice, &sp.PriceChange1h, &sp.Severity, &sp.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query recent spike: %w", err)
	}
	return &sp, nil
}
