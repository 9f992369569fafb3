package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// ArbitrageStore is an in-memory implementation of storage.ArbitrageStore.
type ArbitrageStore struct {
	db *DB
}

// NewArbitrageStore creates a new in-memory arbitrage store.
func NewArbitrageStore(db *DB) *ArbitrageStore {
	return &ArbitrageStore{db: db}
}

// Compile-time interface check.
var _ storage.ArbitrageStore = (*ArbitrageStore)(nil)

// UpsertPair links a Polymarket market with its Kalshi counterpart.
func (s *ArbitrageStore) UpsertPair(_ context.Context, polymarketMarketID, kalshiMarketID uuid.UUID) (uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, p := range s.db.pairs {
		if p.polymarketMarketID == polymarketMarketID && p.kalshiMarketID == kalshiMarketID {
			p.active = true
			return p.pairID, nil
		}
	}

	pair := &memPair{
		pairID:             uuid.New(),
		polymarketMarketID: polymarketMarketID,
		kalshiMarketID:     kalshiMarketID,
		active:             true,
	}
	s.db.pairs[pair.pairID] = pair
	return pair.pairID, nil
}

// ActivePairs returns enabled pairs joined with the latest YES-leg snapshot
// on each venue.
func (s *ArbitrageStore) ActivePairs(_ context.Context) ([]*domain.MarketPair, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var pairs []*domain.MarketPair
	for _, p := range s.db.pairs {
		if !p.active {
			continue
		}
		polyMarket, ok := s.db.markets[p.polymarketMarketID]
		if !ok {
			continue
		}

		polyYes, okP := s.db.tokensByMarket[tokenKey(p.polymarketMarketID, domain.OutcomeYes)]
		kalshiYes, okK := s.db.tokensByMarket[tokenKey(p.kalshiMarketID, domain.OutcomeYes)]
		if !okP || !okK {
			continue
		}

		mp := &domain.MarketPair{
			PairID:             p.pairID,
			PolymarketMarketID: p.polymarketMarketID,
			KalshiMarketID:     p.kalshiMarketID,
			PolymarketTitle:    polyMarket.Title,
		}
		if last := s.db.latestSnapshotLocked(polyYes); last != nil {
			price := last.Price
			mp.PolymarketYesPrice = &price
			mp.PolymarketVolume = last.Volume24h
		}
		if last := s.db.latestSnapshotLocked(kalshiYes); last != nil {
			price := last.Price
			mp.KalshiYesPrice = &price
			mp.KalshiVolume = last.Volume24h
		}
		pairs = append(pairs, mp)
	}
	return pairs, nil
}

// RecordOpportunity appends a detected opportunity.
func (s *ArbitrageStore) RecordOpportunity(_ context.Context, o *domain.ArbitrageOpportunity) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored := *o
	if stored.OpportunityID == uuid.Nil {
		stored.OpportunityID = uuid.New()
	}
	s.db.opportunities = append(s.db.opportunities, &stored)
	return nil
}

// ExpireOld deletes opportunities whose validity window has passed.
func (s *ArbitrageStore) ExpireOld(_ context.Context, now time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var kept []*domain.ArbitrageOpportunity
	var deleted int64
	for _, o := range s.db.opportunities {
		if o.ExpiresAt.Before(now) {
			deleted++
			continue
		}
		kept = append(kept, o)
	}
	s.db.opportunities = kept
	return deleted, nil
}

// Opportunities returns every stored opportunity. Test helper.
func (s *ArbitrageStore) Opportunities() []*domain.ArbitrageOpportunity {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]*domain.ArbitrageOpportunity, 0, len(s.db.opportunities))
	for _, o := range s.db.opportunities {
		cp := *o
		out = append(out, &cp)
	}
	return out
}
