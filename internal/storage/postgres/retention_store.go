package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// RetentionStore implements storage.RetentionStore using PostgreSQL.
type RetentionStore struct {
	pool *Pool
}

// NewRetentionStore creates a new RetentionStore.
func NewRetentionStore(pool *Pool) *RetentionStore {
	return &RetentionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RetentionStore = (*RetentionStore)(nil)

// Table and column names are interpolated into SQL, so they must be plain
// identifiers even though they only ever come from configuration.
var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: invalid identifier %q", storage.ErrInvalidInput, name)
	}
	return nil
}

// DeleteOlderThanBatch deletes up to batch rows older than cutoff using a
// ctid subselect, so each statement holds locks briefly.
func (s *RetentionStore) DeleteOlderThanBatch(ctx context.Context, table, column string, cutoff time.Time, batch int) (int64, error) {
	if err := validIdentifier(table); err != nil {
		return 0, err
	}
	if err := validIdentifier(column); err != nil {
		return 0, err
	}
	if batch <= 0 {
		return 0, fmt.Errorf("%w: batch must be positive", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE ctid IN (
			SELECT ctid FROM %s WHERE %s < $1 LIMIT $2
		)
	`, table, table, column)

	tag, err := s.pool.Exec(ctx, query, cutoff, batch)
	if err != nil {
		return 0, fmt.Errorf("batch delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOlderThan deletes all rows older than cutoff in one statement.
func (s *RetentionStore) DeleteOlderThan(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	if err := validIdentifier(table); err != nil {
		return 0, err
	}
	if err := validIdentifier(column); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, table, column)
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// TableExists reports whether a table is present in the public schema.
func (s *RetentionStore) TableExists(ctx context.Context, table string) (bool, error) {
	if err := validIdentifier(table); err != nil {
		return false, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)
	`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s exists: %w", table, err)
	}
	return exists, nil
}

// TableSizes returns on-disk bytes per table, including indexes.
func (s *RetentionStore) TableSizes(ctx context.Context, tables []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(tables))
	for _, table := range tables {
		if err := validIdentifier(table); err != nil {
			return nil, err
		}

		var size int64
		err := s.pool.QueryRow(ctx, `SELECT pg_total_relation_size($1::regclass)`, table).Scan(&size)
		if err != nil {
			return nil, fmt.Errorf("size of table %s: %w", table, err)
		}
		sizes[table] = size
	}
	return sizes, nil
}

// DatabaseSize returns total bytes of the current database.
func (s *RetentionStore) DatabaseSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("database size: %w", err)
	}
	return size, nil
}
