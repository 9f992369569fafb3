package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// ArbitrageStore implements storage.ArbitrageStore using PostgreSQL.
type ArbitrageStore struct {
	pool *Pool
}

// NewArbitrageStore creates a new ArbitrageStore.
func NewArbitrageStore(pool *Pool) *ArbitrageStore {
	return &ArbitrageStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ArbitrageStore = (*ArbitrageStore)(nil)

// UpsertPair links a Polymarket market with its Kalshi counterpart.
func (s *ArbitrageStore) UpsertPair(ctx context.Context, polymarketMarketID, kalshiMarketID uuid.UUID) (uuid.UUID, error) {
	query := `
		INSERT INTO market_pairs (polymarket_market_id, kalshi_market_id, active)
		VALUES ($1, $2, true)
		ON CONFLICT (polymarket_market_id, kalshi_market_id) DO UPDATE SET active = true
		RETURNING pair_id
	`

	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, query, polymarketMarketID, kalshiMarketID).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("upsert market pair: %w", err)
	}
	return id, nil
}

// ActivePairs returns enabled pairs joined with the latest YES-leg snapshot
// on each venue. Pairs missing a YES token on either side are excluded.
func (s *ArbitrageStore) ActivePairs(ctx context.Context) ([]*domain.MarketPair, error) {
	query := `
		SELECT p.pair_id, p.polymarket_market_id, p.kalshi_market_id, pm.title,
		       pls.price, kls.price, pls.volume_24h, kls.volume_24h
		FROM market_pairs p
		JOIN markets pm ON pm.market_id = p.polymarket_market_id
		JOIN market_tokens pt ON pt.market_id = p.polymarket_market_id AND pt.outcome = 'YES'
		JOIN market_tokens kt ON kt.market_id = p.kalshi_market_id AND kt.outcome = 'YES'
		LEFT JOIN LATERAL (
			SELECT price, volume_24h FROM snapshots
			WHERE token_id = pt.token_id ORDER BY ts DESC LIMIT 1
		) pls ON true
		LEFT JOIN LATERAL (
			SELECT price, volume_24h FROM snapshots
			WHERE token_id = kt.token_id ORDER BY ts DESC LIMIT 1
		) kls ON true
		WHERE p.active
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*domain.MarketPair
	for rows.Next() {
		var p domain.MarketPair
		if err := rows.Scan(
			&p.PairID, &p.PolymarketMarketID, &p.KalshiMarketID, &p.PolymarketTitle,
			&p.PolymarketYesPrice, &p.KalshiYesPrice, &p.PolymarketVolume, &p.KalshiVolume,
		); err != nil {
			return nil, fmt.Errorf("scan market pair row: %w", err)
		}
		pairs = append(pairs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market pair rows: %w", err)
	}
	return pairs, nil
}

// RecordOpportunity appends a detected opportunity.
func (s *ArbitrageStore) RecordOpportunity(ctx context.Context, o *domain.ArbitrageOpportunity) error {
	query := `
		INSERT INTO arbitrage_opportunities (
			pair_id, arbitrage_type,
			polymarket_yes_price, polymarket_no_price,
			kalshi_yes_price, kalshi_no_price,
			total_cost, profit_margin, profit_percentage,
			polymarket_volume, kalshi_volume,
			detected_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		o.PairID, o.ArbitrageType,
		o.PolymarketYesPrice, o.PolymarketNoPrice,
		o.KalshiYesPrice, o.KalshiNoPrice,
		o.TotalCost, o.ProfitMargin, o.ProfitPercentage,
		o.PolymarketVolume, o.KalshiVolume,
		o.DetectedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("record arbitrage opportunity: %w", err)
	}
	return nil
}

// ExpireOld deletes opportunities whose validity window has passed.
func (s *ArbitrageStore) ExpireOld(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM arbitrage_opportunities WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire arbitrage opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}
