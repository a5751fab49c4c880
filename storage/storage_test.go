package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclebinho/zefood.app.customer/zefood"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "journal.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertAndListOrderSummaries(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first := zefood.OrderSummary{ID: "ord-1", Status: zefood.StatusPending, RestaurantName: "Cantina", Total: 42.5}
	require.NoError(t, store.UpsertOrderSummary(ctx, first))

	// Upsert replaces, never duplicates.
	first.Status = zefood.StatusPreparing
	require.NoError(t, store.UpsertOrderSummary(ctx, first))
	require.NoError(t, store.UpsertOrderSummary(ctx, zefood.OrderSummary{ID: "ord-2", Status: zefood.StatusPending}))

	summaries, err := store.ListOrderSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := map[string]zefood.OrderSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.Equal(t, zefood.StatusPreparing, byID["ord-1"].Status)
	assert.Equal(t, "Cantina", byID["ord-1"].RestaurantName)
}

func TestStatusHistoryChronological(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, status := range []zefood.OrderStatus{
		zefood.StatusConfirmed, zefood.StatusPreparing, zefood.StatusOutForDelivery, zefood.StatusDelivered,
	} {
		require.NoError(t, store.RecordStatusChange(ctx, "ord-1", status))
	}
	require.NoError(t, store.RecordStatusChange(ctx, "ord-2", zefood.StatusCancelled))

	history, err := store.ListStatusHistory(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, zefood.StatusConfirmed, history[0].Status)
	assert.Equal(t, zefood.StatusDelivered, history[3].Status)

	require.Error(t, store.RecordStatusChange(ctx, "", zefood.StatusPending))
}

func TestTrackingSnapshotRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	_, ok, err := store.LoadTrackingSnapshot(ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, ok)

	snap := &zefood.TrackingSnapshot{
		OrderID: "ord-1",
		Status:  zefood.StatusOutForDelivery,
		Driver: &zefood.Driver{
			ID:       "drv-1",
			Name:     "Ana",
			Location: &zefood.DriverLocation{DriverID: "drv-1", Latitude: -8.05, Longitude: -34.9},
		},
	}
	require.NoError(t, store.SaveTrackingSnapshot(ctx, snap))

	loaded, ok, err := store.LoadTrackingSnapshot(ctx, "ord-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, zefood.StatusOutForDelivery, loaded.Status)
	require.NotNil(t, loaded.Driver)
	assert.Equal(t, -8.05, loaded.Driver.Location.Latitude)

	// Second save overwrites.
	snap.Status = zefood.StatusDelivered
	require.NoError(t, store.SaveTrackingSnapshot(ctx, snap))
	loaded, _, err = store.LoadTrackingSnapshot(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, zefood.StatusDelivered, loaded.Status)
}

func TestPruneHistory(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.RecordStatusChange(ctx, "ord-1", zefood.StatusDelivered))

	removed, err := store.PruneHistory(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed, "fresh rows survive the retention window")

	removed, err = store.PruneHistory(ctx, -time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
