package jobs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// retentionColumns maps each managed table to its timestamp column.
var retentionColumns = map[string]string{
	"snapshots":     "ts",
	"ohlc_1m":       "bucket_ts",
	"ohlc_5m":       "bucket_ts",
	"ohlc_1h":       "bucket_ts",
	"alerts":        "created_at",
	"volume_spikes": "created_at",
	"volume_hourly": "hour_ts",
}

// highVolumeTables are deleted in bounded batches with pauses so retention
// never holds long row locks against the live ingest path.
var highVolumeTables = map[string]bool{
	"snapshots":     true,
	"ohlc_1m":       true,
	"volume_hourly": true,
}

// RetentionJob deletes expired rows per table and publishes storage size
// telemetry.
type RetentionJob struct {
	cfg     config.RetentionConfig
	store   storage.RetentionStore
	status  storage.StatusStore
	metrics *observability.Metrics
	logger  *log.Logger
}

func NewRetentionJob(cfg config.RetentionConfig, store storage.RetentionStore, status storage.StatusStore, metrics *observability.Metrics, logger *log.Logger) *RetentionJob {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil, "")
	}
	return &RetentionJob{cfg: cfg, store: store, status: status, metrics: metrics, logger: logger}
}

func (j *RetentionJob) Name() string { return "retention" }

func (j *RetentionJob) Run(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()
	deleted := make(map[string]int64)

	for _, table := range sortedTables(j.cfg.Days) {
		days := j.cfg.Days[table]
		if days <= 0 {
			continue
		}
		column, ok := retentionColumns[table]
		if !ok {
			j.logger.Printf("[retention] no timestamp column known for %q, skipping", table)
			continue
		}
		exists, err := j.store.TableExists(ctx, table)
		if err != nil {
			return fmt.Errorf("table exists %s: %w", table, err)
		}
		if !exists {
			continue
		}

		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		n, err := j.purge(ctx, table, column, cutoff)
		if err != nil {
			j.logger.Printf("[retention] purge %s: %v", table, err)
			continue
		}
		deleted[table] = n
		if n > 0 {
			j.metrics.RowsDeleted.WithLabelValues(table).Add(float64(n))
			j.logger.Printf("[retention] %s: deleted %d rows older than %dd", table, n, days)
		}
	}

	j.publishSizes(ctx, deleted, time.Since(start))
	return nil
}

func (j *RetentionJob) purge(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	if !highVolumeTables[table] {
		return j.store.DeleteOlderThan(ctx, table, column, cutoff)
	}

	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := j.store.DeleteOlderThanBatch(ctx, table, column, cutoff, j.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.cfg.BatchSize) {
			return total, nil
		}
		sleepJob(ctx, j.cfg.Pause)
	}
}

func (j *RetentionJob) publishSizes(ctx context.Context, deleted map[string]int64, elapsed time.Duration) {
	tables := sortedTables(j.cfg.Days)
	sizes, err := j.store.TableSizes(ctx, tables)
	if err != nil {
		j.logger.Printf("[retention] table sizes: %v", err)
		sizes = nil
	}
	for table, bytes := range sizes {
		j.metrics.TableBytes.WithLabelValues(table).Set(float64(bytes))
	}

	dbBytes, err := j.store.DatabaseSize(ctx)
	if err != nil {
		j.logger.Printf("[retention] database size: %v", err)
	} else {
		j.metrics.DatabaseBytes.Set(float64(dbBytes))
	}

	var totalDeleted int64
	for _, n := range deleted {
		totalDeleted += n
	}
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		minutes = 1.0 / 60
	}

	fields := map[string]any{
		"last_run":        time.Now().UTC().Format(time.RFC3339),
		"elapsed_seconds": elapsed.Seconds(),
		"rows_deleted":    deleted,
		"deleted_per_min": float64(totalDeleted) / minutes,
		"table_bytes":     sizes,
		"database_bytes":  dbBytes,
	}
	if err := j.status.UpsertStatus(ctx, "retention", fields); err != nil {
		j.logger.Printf("[retention] status update: %v", err)
	}
}

func sortedTables(days map[string]int) []string {
	tables := make([]string, 0, len(days))
	for table := range days {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

func sleepJob(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
