package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBatch adds snapshots in one transaction, skipping (token_id, ts)
// duplicates. Prices are clamped to [0,1] before storage.
func (s *SnapshotStore) InsertBatch(ctx context.Context, snaps []*domain.Snapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO snapshots (token_id, ts, price, volume_24h, spread)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_id, ts) DO NOTHING
	`

	var inserted int64
	for _, snap := range snaps {
		tag, err := tx.Exec(ctx, query,
			snap.TokenID, snap.Ts, domain.ClampPrice(snap.Price), snap.Volume24h, snap.Spread,
		)
		if err != nil {
			return 0, fmt.Errorf("insert snapshot: %w", err)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// Latest retrieves the most recent snapshot for a token.
func (s *SnapshotStore) Latest(ctx context.Context, tokenID uuid.UUID) (*domain.Snapshot, error) {
	query := `
		SELECT token_id, ts, price, volume_24h, spread
		FROM snapshots
		WHERE token_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`
	return s.scanOne(ctx, query, tokenID)
}

// AtOrBefore retrieves the newest snapshot at or before ts.
func (s *SnapshotStore) AtOrBefore(ctx context.Context, tokenID uuid.UUID, ts time.Time) (*domain.Snapshot, error) {
	query := `
		SELECT token_id, ts, price, volume_24h, spread
		FROM snapshots
		WHERE token_id = $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT 1
	`
	return s.scanOne(ctx, query, tokenID, ts)
}

func (s *SnapshotStore) scanOne(ctx context.Context, query string, args ...any) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&snap.TokenID, &snap.Ts, &snap.Price, &snap.Volume24h, &snap.Spread,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return &snap, nil
}

// MoversWindow joins, per token of an active market, the latest snapshot
// against the snapshot at or before now-window. Tokens with no observation
// on either side of the boundary are excluded.
func (s *SnapshotStore) MoversWindow(ctx context.Context, window time.Duration) ([]*domain.MoverRow, error) {
	query := `
		SELECT t.token_id, t.market_id, m.title, t.outcome, m.source,
		       latest.price, latest.ts, old.price,
		       COALESCE(latest.volume_24h, 0),
		       (latest.price - old.price) * 100,
		       latest.spread, m.end_date
		FROM market_tokens t
		JOIN markets m ON m.market_id = t.market_id
		JOIN LATERAL (
			SELECT price, ts, volume_24h, spread
			FROM snapshots
			WHERE token_id = t.token_id
			ORDER BY ts DESC
			LIMIT 1
		) latest ON true
		JOIN LATERAL (
			SELECT price
			FROM snapshots
			WHERE token_id = t.token_id AND ts <= now() - $1::interval
			ORDER BY ts DESC
			LIMIT 1
		) old ON true
		WHERE m.status = 'active'
	`

	rows, err := s.pool.Query(ctx, query, window)
	if err != nil {
		return nil, fmt.Errorf("query movers window: %w", err)
	}
	defer rows.Close()

	var movers []*domain.MoverRow
	for rows.Next() {
		var r domain.MoverRow
		if err := rows.Scan(
			&r.TokenID, &r.MarketID, &r.Title, &r.Outcome, &r.Source,
			&r.LatestPrice, &r.LatestTs, &r.OldPrice,
			&r.LatestVolume, &r.MovePP, &r.Spread, &r.EndDate,
		); err != nil {
			return nil, fmt.Errorf("scan mover row: %w", err)
		}
		movers = append(movers, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mover rows: %w", err)
	}
	return movers, nil
}
