package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

func seedSnapshots(t *testing.T, ctx context.Context, pool *Pool, n int, ts time.Time) {
	t.Helper()

	marketID := createTestMarket(t, ctx, pool, domain.SourcePolymarket, "ret-mkt")
	tokenID := createTestToken(t, ctx, pool, marketID, "ret-asset")

	snapStore := NewSnapshotStore(pool)
	snaps := make([]*domain.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		snaps = append(snaps, &domain.Snapshot{
			TokenID: tokenID,
			Ts:      ts.Add(time.Duration(i) * time.Second),
			Price:   0.5,
		})
	}
	_, err := snapStore.InsertBatch(ctx, snaps)
	require.NoError(t, err)
}

func TestRetentionStore_DeleteOlderThanBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	seedSnapshots(t, ctx, pool, 25, old)

	store := NewRetentionStore(pool)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	// 25 rows, batch 10: 10, 10, 5, 0.
	var total int64
	var batches int
	for {
		n, err := store.DeleteOlderThanBatch(ctx, "snapshots", "ts", cutoff, 10)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
		batches++
	}
	assert.EqualValues(t, 25, total)
	assert.Equal(t, 3, batches)
}

func TestRetentionStore_DeleteOlderThan(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	seedSnapshots(t, ctx, pool, 5, old)

	store := NewRetentionStore(pool)
	deleted, err := store.DeleteOlderThan(ctx, "snapshots", "ts", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 5, deleted)
}

func TestRetentionStore_IdentifierValidation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRetentionStore(pool)

	_, err := store.DeleteOlderThan(ctx, "snapshots; DROP TABLE markets", "ts", time.Now())
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.DeleteOlderThanBatch(ctx, "snapshots", "ts", time.Now(), 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRetentionStore_Sizes(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRetentionStore(pool)

	exists, err := store.TableExists(ctx, "snapshots")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.TableExists(ctx, "no_such_table")
	require.NoError(t, err)
	assert.False(t, exists)

	sizes, err := store.TableSizes(ctx, []string{"snapshots", "alerts"})
	require.NoError(t, err)
	assert.Greater(t, sizes["snapshots"], int64(0))
	assert.Greater(t, sizes["alerts"], int64(0))

	dbSize, err := store.DatabaseSize(ctx)
	require.NoError(t, err)
	assert.Greater(t, dbSize, int64(0))
}
