package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// StatsStore is an in-memory implementation of storage.StatsStore.
type StatsStore struct {
	db *DB
}

// NewStatsStore creates a new in-memory stats store.
func NewStatsStore(db *DB) *StatsStore {
	return &StatsStore{db: db}
}

// Compile-time interface check.
var _ storage.StatsStore = (*StatsStore)(nil)

// HourlyCloses returns the last snapshot of each hour within the lookback,
// oldest first, with the previous hour's close attached.
func (s *StatsStore) HourlyCloses(_ context.Context, tokenID uuid.UUID, lookback time.Duration) ([]*domain.HourlySample, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-lookback)
	closes := make(map[time.Time]*domain.Snapshot)
	for _, snap := range s.db.snapshots[tokenID] {
		if snap.Ts.Before(cutoff) {
			continue
		}
		hour := snap.Ts.UTC().Truncate(time.Hour)
		if prev, ok := closes[hour]; !ok || snap.Ts.After(prev.Ts) {
			closes[hour] = snap
		}
	}

	hours := make([]time.Time, 0, len(closes))
	for hour := range closes {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	var samples []*domain.HourlySample
	var prevClose *float64
	for _, hour := range hours {
		snap := closes[hour]
		samples = append(samples, &domain.HourlySample{
			HourTs:    hour,
			Close:     snap.Price,
			PrevClose: prevClose,
			Volume24h: snap.Volume24h,
		})
		c := snap.Price
		prevClose = &c
	}
	return samples, nil
}

// UpsertStats inserts or replaces a token's baseline.
func (s *StatsStore) UpsertStats(_ context.Context, st *domain.MarketStats) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored := *st
	stored.LastUpdated = time.Now().UTC()
	s.db.stats[st.TokenID] = &stored
	return nil
}

// StatsMap returns all baselines keyed by token id.
func (s *StatsStore) StatsMap(_ context.Context) (map[uuid.UUID]*domain.MarketStats, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	stats := make(map[uuid.UUID]*domain.MarketStats, len(s.db.stats))
	for id, st := range s.db.stats {
		cp := *st
		stats[id] = &cp
	}
	return stats, nil
}

// TokensWithSnapshots returns ids of tokens with any snapshot in the lookback.
func (s *StatsStore) TokensWithSnapshots(_ context.Context, lookback time.Duration) ([]uuid.UUID, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-lookback)
	var ids []uuid.UUID
	for tokenID, snaps := range s.db.snapshots {
		for _, snap := range snaps {
			if !snap.Ts.Before(cutoff) {
				ids = append(ids, tokenID)
				break
			}
		}
	}
	return ids, nil
}
