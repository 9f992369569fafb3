package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
)

// fakeRetentionStore counts delete calls per table and serves canned sizes.
type fakeRetentionStore struct {
	rows       map[string]int64 // rows currently eligible for deletion
	batchCalls map[string]int
	bulkCalls  map[string]int
	missing    map[string]bool
}

func newFakeRetentionStore(rows map[string]int64) *fakeRetentionStore {
	return &fakeRetentionStore{
		rows:       rows,
		batchCalls: make(map[string]int),
		bulkCalls:  make(map[string]int),
		missing:    make(map[string]bool),
	}
}

func (s *fakeRetentionStore) DeleteOlderThanBatch(_ context.Context, table, _ string, _ time.Time, batch int) (int64, error) {
	s.batchCalls[table]++
	n := s.rows[table]
	if n > int64(batch) {
		n = int64(batch)
	}
	s.rows[table] -= n
	return n, nil
}

func (s *fakeRetentionStore) DeleteOlderThan(_ context.Context, table, _ string, _ time.Time) (int64, error) {
	s.bulkCalls[table]++
	n := s.rows[table]
	s.rows[table] = 0
	return n, nil
}

func (s *fakeRetentionStore) TableExists(_ context.Context, table string) (bool, error) {
	return !s.missing[table], nil
}

func (s *fakeRetentionStore) TableSizes(_ context.Context, tables []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(tables))
	for _, table := range tables {
		sizes[table] = 1 << 20
	}
	return sizes, nil
}

func (s *fakeRetentionStore) DatabaseSize(_ context.Context) (int64, error) {
	return 42 << 20, nil
}

func retentionConfig(days map[string]int) config.RetentionConfig {
	return config.RetentionConfig{
		Days:      days,
		BatchSize: 10000,
		Pause:     time.Millisecond,
	}
}

func TestRetentionJob_BatchesHighVolumeTables(t *testing.T) {
	f := newFixture(t)
	store := newFakeRetentionStore(map[string]int64{
		"snapshots": 25000,
		"alerts":    500,
	})

	job := NewRetentionJob(retentionConfig(map[string]int{"snapshots": 30, "alerts": 90}),
		store, f.status, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))

	// 25000 rows at batch 10000: 10000, 10000, 5000.
	assert.Equal(t, 3, store.batchCalls["snapshots"])
	assert.Zero(t, store.bulkCalls["snapshots"])

	// Low-volume tables delete in one statement.
	assert.Equal(t, 1, store.bulkCalls["alerts"])
	assert.Zero(t, store.batchCalls["alerts"])

	assert.Zero(t, store.rows["snapshots"])
	assert.Zero(t, store.rows["alerts"])
}

func TestRetentionJob_SkipsMissingAndUnknownTables(t *testing.T) {
	f := newFixture(t)
	store := newFakeRetentionStore(map[string]int64{"alerts": 10})
	store.missing["alerts"] = true

	job := NewRetentionJob(retentionConfig(map[string]int{"alerts": 90, "bogus_table": 7}),
		store, f.status, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))

	assert.Zero(t, store.bulkCalls["alerts"])
	assert.Zero(t, store.bulkCalls["bogus_table"])
	assert.Equal(t, int64(10), store.rows["alerts"])
}

func TestRetentionJob_PublishesStorageTelemetry(t *testing.T) {
	f := newFixture(t)
	store := newFakeRetentionStore(map[string]int64{"alerts": 5})

	job := NewRetentionJob(retentionConfig(map[string]int{"alerts": 90}),
		store, f.status, testMetrics(), quietLogger())
	require.NoError(t, job.Run(context.Background()))

	raw, err := f.status.GetStatus(context.Background(), "retention")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "database_bytes")
	assert.Contains(t, string(raw), "rows_deleted")
}
