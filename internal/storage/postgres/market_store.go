package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// MarketStore implements storage.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *Pool
}

// NewMarketStore creates a new MarketStore.
func NewMarketStore(pool *Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MarketStore = (*MarketStore)(nil)

// UpsertMarket inserts or refreshes a market keyed by (source, source_id).
func (s *MarketStore) UpsertMarket(ctx context.Context, m *domain.Market) (uuid.UUID, error) {
	if m.SourceID == "" || m.Title == "" {
		return uuid.Nil, fmt.Errorf("%w: market requires source_id and title", storage.ErrInvalidInput)
	}
	status := m.Status
	if status == "" {
		status = domain.MarketStatusActive
	}

	query := `
		INSERT INTO markets (source, source_id, title, category, status, url, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, source_id) DO UPDATE SET
			title      = EXCLUDED.title,
			category   = EXCLUDED.category,
			status     = EXCLUDED.status,
			url        = EXCLUDED.url,
			end_date   = EXCLUDED.end_date,
			updated_at = now()
		RETURNING market_id
	`

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		m.Source, m.SourceID, m.Title, m.Category, status, m.URL, m.EndDate,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert market: %w", err)
	}
	return id, nil
}

// UpsertToken inserts or refreshes an outcome token keyed by (market_id, outcome).
func (s *MarketStore) UpsertToken(ctx context.Context, t *domain.Token) (uuid.UUID, error) {
	if t.MarketID == uuid.Nil || t.Outcome == "" {
		return uuid.Nil, fmt.Errorf("%w: token requires market_id and outcome", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO market_tokens (market_id, outcome, source_token_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_id, outcome) DO UPDATE SET
			source_token_id = EXCLUDED.source_token_id
		RETURNING token_id
	`

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, t.MarketID, t.Outcome, t.SourceTokenID).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert token: %w", err)
	}
	return id, nil
}

// ActiveTokens returns every token of an active market for a venue, joined
// with its last persisted snapshot via a lateral latest-row lookup. Tokens
// with recent snapshots sort first so subscription slots go to live markets.
func (s *MarketStore) ActiveTokens(ctx context.Context, source domain.Source) ([]*domain.ActiveToken, error) {
	query := `
		SELECT t.token_id, t.source_token_id, t.market_id, m.end_date,
		       ls.price, ls.ts, ls.spread
		FROM market_tokens t
		JOIN markets m ON m.market_id = t.market_id
		LEFT JOIN LATERAL (
			SELECT price, ts, spread
			FROM snapshots
			WHERE token_id = t.token_id
			ORDER BY ts DESC
			LIMIT 1
		) ls ON true
		WHERE m.source = $1 AND m.status = 'active'
		ORDER BY ls.ts DESC NULLS LAST, t.token_id ASC
	`

	rows, err := s.pool.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("query active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.ActiveToken
	for rows.Next() {
		var t domain.ActiveToken
		if err := rows.Scan(
			&t.TokenID, &t.SourceTokenID, &t.MarketID, &t.EndDate,
			&t.LastPrice, &t.LastWrittenAt, &t.LastSpread,
		); err != nil {
			return nil, fmt.Errorf("scan active token row: %w", err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active token rows: %w", err)
	}
	return tokens, nil
}

// MarkResolved flags a market resolved with its outcome.
func (s *MarketStore) MarkResolved(ctx context.Context, source domain.Source, sourceID, outcome string, resolvedAt time.Time) error {
	query := `
		UPDATE markets
		SET status = 'resolved', resolved_outcome = $3, resolved_at = $4, updated_at = now()
		WHERE source = $1 AND source_id = $2
	`

	tag, err := s.pool.Exec(ctx, query, source, sourceID, outcome, resolvedAt)
	if err != nil {
		return fmt.Errorf("mark market resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
