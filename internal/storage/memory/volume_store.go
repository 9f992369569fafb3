package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// VolumeStore is an in-memory implementation of storage.VolumeStore.
type VolumeStore struct {
	db *DB
}

// NewVolumeStore creates a new in-memory volume store.
func NewVolumeStore(db *DB) *VolumeStore {
	return &VolumeStore{db: db}
}

// Compile-time interface check.
var _ storage.VolumeStore = (*VolumeStore)(nil)

// AccumulateTradeVolume adds notional to the running counter and hourly bucket.
func (s *VolumeStore) AccumulateTradeVolume(_ context.Context, tokenID uuid.UUID, notional float64, ts time.Time) error {
	if notional < 0 {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.totalNotional[tokenID] += notional
	s.db.tradeCounts[tokenID]++

	hour := ts.UTC().Truncate(time.Hour)
	if s.db.volumeHourly[tokenID] == nil {
		s.db.volumeHourly[tokenID] = make(map[time.Time]float64)
	}
	s.db.volumeHourly[tokenID][hour] += notional
	return nil
}

// SpikeCandidates compares last-24h volume against the preceding 6-day
// average, mirroring the SQL backend.
func (s *VolumeStore) SpikeCandidates(_ context.Context, minRatio, minVolume float64) ([]*domain.SpikeCandidate, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	var candidates []*domain.SpikeCandidate
	for tokenID, hours := range s.db.volumeHourly {
		t, ok := s.db.tokens[tokenID]
		if !ok {
			continue
		}
		m, ok := s.db.markets[t.MarketID]
		if !ok || m.Status != domain.MarketStatusActive {
			continue
		}

		var current, baseline float64
		for hour, notional := range hours {
			switch {
			case hour.After(dayAgo) || hour.Equal(dayAgo):
				current += notional
			case hour.After(weekAgo) || hour.Equal(weekAgo):
				baseline += notional
			}
		}
		avgDaily := baseline / 6.0
		if avgDaily <= 0 || current < minVolume {
			continue
		}
		ratio := current / avgDaily
		if ratio < minRatio {
			continue
		}

		c := &domain.SpikeCandidate{
			TokenID:       tokenID,
			CurrentVolume: current,
			AvgVolume:     avgDaily,
			SpikeRatio:    ratio,
			Title:         m.Title,
			Outcome:       t.Outcome,
		}
		if last := s.db.latestSnapshotLocked(tokenID); last != nil {
			price := last.Price
			c.CurrentPrice = &price
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SpikeRatio > candidates[j].SpikeRatio
	})
	return candidates, nil
}

// InsertSpike records a detected volume spike.
func (s *VolumeStore) InsertSpike(_ context.Context, sp *domain.VolumeSpike) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored := *sp
	if stored.SpikeID == uuid.Nil {
		stored.SpikeID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.db.spikes = append(s.db.spikes, &stored)
	return nil
}

// RecentSpikeForToken retrieves the newest spike for a token within the lookback.
func (s *VolumeStore) RecentSpikeForToken(_ context.Context, tokenID uuid.UUID, lookback time.Duration) (*domain.VolumeSpike, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-lookback)
	var newest *domain.VolumeSpike
	for _, sp := range s.db.spikes {
		if sp.TokenID != tokenID || sp.CreatedAt.Before(cutoff) {
			continue
		}
		if newest == nil || sp.CreatedAt.After(newest.CreatedAt) {
			newest = sp
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}
