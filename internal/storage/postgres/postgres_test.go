package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/rewired-gh/spikewatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestStore starts a PostgreSQL container and returns a connected store.
func setupTestStore(t *testing.T, historyLimit int) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("spikewatch"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	store, err := New(ctx, dsn, historyLimit)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore_Lists(t *testing.T) {
	store := setupTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, storage.Denylist, "WIF_USDT"))
	require.NoError(t, store.Add(ctx, storage.Denylist, "PEPE_USDT"))
	require.NoError(t, store.Add(ctx, storage.Denylist, "PEPE_USDT"))
	require.NoError(t, store.Add(ctx, storage.PauseList, "DOGE_USDT"))

	denied, err := store.Get(ctx, storage.Denylist)
	require.NoError(t, err)
	assert.Equal(t, []models.Instrument{"PEPE_USDT", "WIF_USDT"}, denied)

	paused, err := store.Get(ctx, storage.PauseList)
	require.NoError(t, err)
	assert.Equal(t, []models.Instrument{"DOGE_USDT"}, paused)

	require.NoError(t, store.Remove(ctx, storage.Denylist, "PEPE_USDT"))
	assert.ErrorIs(t, store.Remove(ctx, storage.Denylist, "PEPE_USDT"), storage.ErrNotFound)

	assert.Error(t, store.Add(ctx, storage.List("nope"), "PEPE_USDT"))
}

func TestStore_AlertHistory(t *testing.T) {
	store := setupTestStore(t, 2)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i, inst := range []models.Instrument{"A_USDT", "B_USDT", "C_USDT"} {
		rec := &models.AlertRecord{
			Instrument:      inst,
			BucketKey:       base.Add(time.Duration(i) * time.Minute).Format("200601021504"),
			PrevVolume:      500,
			CurrVolume:      2500,
			VolumeChangePct: 400,
			Delivered:       i%2 == 0,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.AddAlert(ctx, rec))
		assert.NotEmpty(t, rec.ID)
	}

	got, err := store.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.Instrument("C_USDT"), got[0].Instrument)
	assert.Equal(t, models.Instrument("B_USDT"), got[1].Instrument)
	assert.True(t, got[0].Delivered)
	assert.False(t, got[1].Delivered)
	assert.True(t, got[0].CreatedAt.Equal(base.Add(2*time.Minute)))
}
