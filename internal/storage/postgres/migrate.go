package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/officialn8/prediction-market-movers-sub000/internal/storage/migrations"
)

// ApplyMigrations executes every embedded schema file in name order. The
// files are written to be re-runnable (CREATE IF NOT EXISTS throughout), so
// startup always applies the full set.
func ApplyMigrations(ctx context.Context, pool *Pool) error {
	entries, err := migrations.PostgresFS.ReadDir("postgres")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.PostgresFS.ReadFile("postgres/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
