package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// MarketStore is an in-memory implementation of storage.MarketStore.
type MarketStore struct {
	db *DB
}

// NewMarketStore creates a new in-memory market store.
func NewMarketStore(db *DB) *MarketStore {
	return &MarketStore{db: db}
}

// Compile-time interface check.
var _ storage.MarketStore = (*MarketStore)(nil)

// UpsertMarket inserts or refreshes a market keyed by (source, source_id).
func (s *MarketStore) UpsertMarket(_ context.Context, m *domain.Market) (uuid.UUID, error) {
	if m == nil || m.SourceID == "" || m.Title == "" {
		return uuid.Nil, storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	now := time.Now().UTC()
	key := sourceKey(m.Source, m.SourceID)
	if id, exists := s.db.marketsBySource[key]; exists {
		existing := s.db.markets[id]
		existing.Title = m.Title
		existing.Category = m.Category
		existing.URL = m.URL
		existing.EndDate = m.EndDate
		if m.Status != "" {
			existing.Status = m.Status
		}
		existing.UpdatedAt = now
		return id, nil
	}

	stored := *m
	stored.MarketID = uuid.New()
	if stored.Status == "" {
		stored.Status = domain.MarketStatusActive
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.db.markets[stored.MarketID] = &stored
	s.db.marketsBySource[key] = stored.MarketID
	return stored.MarketID, nil
}

// UpsertToken inserts or refreshes a token keyed by (market_id, outcome).
func (s *MarketStore) UpsertToken(_ context.Context, t *domain.Token) (uuid.UUID, error) {
	if t == nil || t.MarketID == uuid.Nil || t.Outcome == "" {
		return uuid.Nil, storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	key := tokenKey(t.MarketID, t.Outcome)
	if id, exists := s.db.tokensByMarket[key]; exists {
		s.db.tokens[id].SourceTokenID = t.SourceTokenID
		return id, nil
	}

	stored := *t
	stored.TokenID = uuid.New()
	stored.CreatedAt = time.Now().UTC()
	s.db.tokens[stored.TokenID] = &stored
	s.db.tokensByMarket[key] = stored.TokenID
	return stored.TokenID, nil
}

// ActiveTokens returns tokens of active markets for a venue, most recently
// written first.
func (s *MarketStore) ActiveTokens(_ context.Context, source domain.Source) ([]*domain.ActiveToken, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var tokens []*domain.ActiveToken
	for _, t := range s.db.tokens {
		m, ok := s.db.markets[t.MarketID]
		if !ok || m.Source != source || m.Status != domain.MarketStatusActive {
			continue
		}

		at := &domain.ActiveToken{
			TokenID:       t.TokenID,
			SourceTokenID: t.SourceTokenID,
			MarketID:      t.MarketID,
			EndDate:       m.EndDate,
		}
		if last := s.db.latestSnapshotLocked(t.TokenID); last != nil {
			price := last.Price
			ts := last.Ts
			at.LastPrice = &price
			at.LastWrittenAt = &ts
			at.LastSpread = last.Spread
		}
		tokens = append(tokens, at)
	}

	sort.Slice(tokens, func(i, j int) bool {
		ti, tj := tokens[i].LastWrittenAt, tokens[j].LastWrittenAt
		switch {
		case ti == nil && tj == nil:
			return tokens[i].TokenID.String() < tokens[j].TokenID.String()
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	return tokens, nil
}

// MarkResolved flags a market resolved with its outcome.
func (s *MarketStore) MarkResolved(_ context.Context, source domain.Source, sourceID, outcome string, resolvedAt time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	id, exists := s.db.marketsBySource[sourceKey(source, sourceID)]
	if !exists {
		return storage.ErrNotFound
	}

	m := s.db.markets[id]
	m.Status = domain.MarketStatusResolved
	m.ResolvedOutcome = &outcome
	m.ResolvedAt = &resolvedAt
	m.UpdatedAt = time.Now().UTC()
	return nil
}
