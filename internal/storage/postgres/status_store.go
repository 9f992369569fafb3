package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// StatusStore implements storage.StatusStore using PostgreSQL.
type StatusStore struct {
	pool *Pool
}

// NewStatusStore creates a new StatusStore.
func NewStatusStore(pool *Pool) *StatusStore {
	return &StatusStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StatusStore = (*StatusStore)(nil)

// UpsertStatus stores value as JSON under key.
func (s *StatusStore) UpsertStatus(ctx context.Context, key string, value any) error {
	if key == "" {
		return fmt.Errorf("%w: empty status key", storage.ErrInvalidInput)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal status value: %w", err)
	}

	query := `
		INSERT INTO system_status (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = now()
	`

	if _, err := s.pool.Exec(ctx, query, key, raw); err != nil {
		return fmt.Errorf("upsert status %s: %w", key, err)
	}
	return nil
}

// GetStatus retrieves the raw JSON stored under key.
func (s *StatusStore) GetStatus(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_status WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query status %s: %w", key, err)
	}
	return raw, nil
}
