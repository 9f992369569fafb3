package memory

import (
	"context"
	"encoding/json"

	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// StatusStore is an in-memory implementation of storage.StatusStore.
type StatusStore struct {
	db *DB
}

// NewStatusStore creates a new in-memory status store.
func NewStatusStore(db *DB) *StatusStore {
	return &StatusStore{db: db}
}

// Compile-time interface check.
var _ storage.StatusStore = (*StatusStore)(nil)

// UpsertStatus stores value as JSON under key.
func (s *StatusStore) UpsertStatus(_ context.Context, key string, value any) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.kv[key] = raw
	return nil
}

// GetStatus retrieves the raw JSON stored under key.
func (s *StatusStore) GetStatus(_ context.Context, key string) (json.RawMessage, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	raw, ok := s.db.kv[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return cp, nil
}
