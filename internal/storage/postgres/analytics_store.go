package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// AnalyticsStore implements storage.AnalyticsStore using PostgreSQL.
type AnalyticsStore struct {
	pool *Pool
}

// NewAnalyticsStore creates a new AnalyticsStore.
func NewAnalyticsStore(pool *Pool) *AnalyticsStore {
	return &AnalyticsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AnalyticsStore = (*AnalyticsStore)(nil)

// InsertMoverRows appends one cache generation atomically. Rows must share
// one as_of_ts; a duplicate (as_of_ts, window, token) fails the whole batch.
func (s *AnalyticsStore) InsertMoverRows(ctx context.Context, rows []*domain.MoverCacheRow) error {
	if len(rows) == 0 {
		return nil
	}
	asOf := rows[0].AsOfTs
	for _, r := range rows {
		if !r.AsOfTs.Equal(asOf) {
			return fmt.Errorf("%w: mover rows span multiple generations", storage.ErrInvalidInput)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO movers_cache (
			as_of_ts, window_seconds, token_id, price_now, price_then,
			move_pp, abs_move_pp, rank, quality_score, volume_24h, spike_ratio
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, r := range rows {
		_, err := tx.Exec(ctx, query,
			r.AsOfTs, r.WindowSeconds, r.TokenID, r.PriceNow, r.PriceThen,
			r.MovePP, r.AbsMovePP, r.Rank, r.QualityScore, r.Volume24h, r.SpikeRatio,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert mover row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CachedMovers returns the single newest generation for a window. Selecting
// by max(as_of_ts) makes a generation visible all-or-nothing.
func (s *AnalyticsStore) CachedMovers(ctx context.Context, windowSeconds int) ([]*domain.MoverCacheRow, error) {
	query := `
		SELECT as_of_ts, window_seconds, token_id, price_now, price_then,
		       move_pp, abs_move_pp, rank, quality_score, volume_24h, spike_ratio
		FROM movers_cache
		WHERE window_seconds = $1
		  AND as_of_ts = (
			SELECT MAX(as_of_ts) FROM movers_cache WHERE window_seconds = $1
		  )
		ORDER BY rank ASC
	`

	rows, err := s.pool.Query(ctx, query, windowSeconds)
	if err != nil {
		return nil, fmt.Errorf("query cached movers: %w", err)
	}
	defer rows.Close()

	var movers []*domain.MoverCacheRow
	for rows.Next() {
		var r domain.MoverCacheRow
		if err := rows.Scan(
			&r.AsOfTs, &r.WindowSeconds, &r.TokenID, &r.PriceNow, &r.PriceThen,
			&r.MovePP, &r.AbsMovePP, &r.Rank, &r.QualityScore, &r.Volume24h, &r.SpikeRatio,
		); err != nil {
			return nil, fmt.Errorf("scan cached mover row: %w", err)
		}
		movers = append(movers, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached mover rows: %w", err)
	}
	return movers, nil
}

// InsertAlert appends an alert.
func (s *AnalyticsStore) InsertAlert(ctx context.Context, a *domain.Alert) error {
	alertType := a.AlertType
	if alertType == "" {
		alertType = domain.AlertTypePriceMove
	}

	query := `
		INSERT INTO alerts (
			token_id, window_seconds, move_pp, threshold_pp,
			reason, alert_type, volume_spike_ratio
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		a.TokenID, a.WindowSeconds, a.MovePP, a.ThresholdPP,
		a.Reason, alertType, a.VolumeSpikeRatio,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// RecentAlertForToken retrieves the newest alert of a type for a token and
// window within the lookback. A windowSeconds of 0 matches any window.
func (s *AnalyticsStore) RecentAlertForToken(ctx context.Context, tokenID uuid.UUID, windowSeconds int, alertType string, lookback time.Duration) (*domain.Alert, error) {
	query := `
		SELECT alert_id, token_id, window_seconds, move_pp, threshold_pp,
		       reason, alert_type, volume_spike_ratio, created_at
		FROM alerts
		WHERE token_id = $1
		  AND ($2 = 0 OR window_seconds = $2)
		  AND alert_type = $3
		  AND created_at >= now() - $4::interval
		ORDER BY created_at DESC
		LIMIT 1
	`

	var a domain.Alert
	err := s.pool.QueryRow(ctx, query, tokenID, windowSeconds, alertType, lookback).Scan(
		&a.AlertID, &a.TokenID, &a.WindowSeconds, &a.MovePP, &a.ThresholdPP,
		&a.Reason, &a.AlertType, &a.VolumeSpikeRatio, &a.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query recent alert: %w", err)
	}
	return &a, nil
}
