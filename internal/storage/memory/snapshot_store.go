package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBatch adds snapshots, skipping (token_id, ts) duplicates.
func (s *SnapshotStore) InsertBatch(_ context.Context, snaps []*domain.Snapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var inserted int64
	for _, snap := range snaps {
		if s.duplicateLocked(snap.TokenID, snap.Ts) {
			continue
		}
		stored := *snap
		stored.Price = domain.ClampPrice(stored.Price)
		s.db.snapshots[snap.TokenID] = append(s.db.snapshots[snap.TokenID], &stored)
		inserted++
	}

	for _, snap := range snaps {
		list := s.db.snapshots[snap.TokenID]
		sort.Slice(list, func(i, j int) bool { return list[i].Ts.Before(list[j].Ts) })
	}
	return inserted, nil
}

func (s *SnapshotStore) duplicateLocked(tokenID uuid.UUID, ts time.Time) bool {
	for _, existing := range s.db.snapshots[tokenID] {
		if existing.Ts.Equal(ts) {
			return true
		}
	}
	return false
}

// Latest retrieves the most recent snapshot for a token.
func (s *SnapshotStore) Latest(_ context.Context, tokenID uuid.UUID) (*domain.Snapshot, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	snap := s.db.latestSnapshotLocked(tokenID)
	if snap == nil {
		return nil, storage.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// AtOrBefore retrieves the newest snapshot at or before ts.
func (s *SnapshotStore) AtOrBefore(_ context.Context, tokenID uuid.UUID, ts time.Time) (*domain.Snapshot, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	snap := s.db.atOrBeforeLocked(tokenID, ts)
	if snap == nil {
		return nil, storage.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// MoversWindow joins the latest snapshot against the at-or-before snapshot
// for every token of an active market.
func (s *SnapshotStore) MoversWindow(_ context.Context, window time.Duration) ([]*domain.MoverRow, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	boundary := time.Now().UTC().Add(-window)
	var rows []*domain.MoverRow
	for _, t := range s.db.tokens {
		m, ok := s.db.markets[t.MarketID]
		if !ok || m.Status != domain.MarketStatusActive {
			continue
		}

		latest := s.db.latestSnapshotLocked(t.TokenID)
		old := s.db.atOrBeforeLocked(t.TokenID, boundary)
		if latest == nil || old == nil {
			continue
		}

		var volume float64
		if latest.Volume24h != nil {
			volume = *latest.Volume24h
		}
		rows = append(rows, &domain.MoverRow{
			TokenID:      t.TokenID,
			MarketID:     m.MarketID,
			Title:        m.Title,
			Outcome:      t.Outcome,
			Source:       m.Source,
			LatestPrice:  latest.Price,
			LatestTs:     latest.Ts,
			OldPrice:     old.Price,
			LatestVolume: volume,
			MovePP:       (latest.Price - old.Price) * 100,
			Spread:       latest.Spread,
			EndDate:      m.EndDate,
		})
	}
	return rows, nil
}
