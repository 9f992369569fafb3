package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// AnalyticsStore is an in-memory implementation of storage.AnalyticsStore.
type AnalyticsStore struct {
	db *DB
}

// NewAnalyticsStore creates a new in-memory analytics store.
func NewAnalyticsStore(db *DB) *AnalyticsStore {
	return &AnalyticsStore{db: db}
}

// Compile-time interface check.
var _ storage.AnalyticsStore = (*AnalyticsStore)(nil)

// InsertMoverRows appends one cache generation.
func (s *AnalyticsStore) InsertMoverRows(_ context.Context, rows []*domain.MoverCacheRow) error {
	if len(rows) == 0 {
		return nil
	}
	asOf := rows[0].AsOfTs
	for _, r := range rows {
		if !r.AsOfTs.Equal(asOf) {
			return storage.ErrInvalidInput
		}
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, r := range rows {
		for _, existing := range s.db.moverRows {
			if existing.AsOfTs.Equal(r.AsOfTs) &&
				existing.WindowSeconds == r.WindowSeconds &&
				existing.TokenID == r.TokenID {
				return storage.ErrDuplicateKey
			}
		}
	}
	for _, r := range rows {
		cp := *r
		s.db.moverRows = append(s.db.moverRows, &cp)
	}
	return nil
}

// CachedMovers returns the newest generation for a window, rank ascending.
func (s *AnalyticsStore) CachedMovers(_ context.Context, windowSeconds int) ([]*domain.MoverCacheRow, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var newest time.Time
	for _, r := range s.db.moverRows {
		if r.WindowSeconds == windowSeconds && r.AsOfTs.After(newest) {
			newest = r.AsOfTs
		}
	}
	if newest.IsZero() {
		return nil, nil
	}

	var rows []*domain.MoverCacheRow
	for _, r := range s.db.moverRows {
		if r.WindowSeconds == windowSeconds && r.AsOfTs.Equal(newest) {
			cp := *r
			rows = append(rows, &cp)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	return rows, nil
}

// InsertAlert appends an alert.
func (s *AnalyticsStore) InsertAlert(_ context.Context, a *domain.Alert) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored := *a
	if stored.AlertID == uuid.Nil {
		stored.AlertID = uuid.New()
	}
	if stored.AlertType == "" {
		stored.AlertType = domain.AlertTypePriceMove
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.db.alerts = append(s.db.alerts, &stored)
	return nil
}

// RecentAlertForToken retrieves the newest matching alert within the lookback.
func (s *AnalyticsStore) RecentAlertForToken(_ context.Context, tokenID uuid.UUID, windowSeconds int, alertType string, lookback time.Duration) (*domain.Alert, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-lookback)
	var newest *domain.Alert
	for _, a := range s.db.alerts {
		if a.TokenID != tokenID || a.AlertType != alertType || a.CreatedAt.Before(cutoff) {
			continue
		}
		if windowSeconds != 0 && a.WindowSeconds != windowSeconds {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

// Alerts returns every stored alert, oldest first. Test helper.
func (s *AnalyticsStore) Alerts() []*domain.Alert {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]*domain.Alert, 0, len(s.db.alerts))
	for _, a := range s.db.alerts {
		cp := *a
		out = append(out, &cp)
	}
	return out
}
