package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

func newCheckpoint(t *testing.T, instrumentID string) *models.CollectionProgress {
	t.Helper()
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	return models.NewCollectionProgress(instrumentID, start, end)
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress", "checkpoints.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	cp := newCheckpoint(t, "bitcoin")
	require.NoError(t, cp.Start(time.Now()))
	require.NoError(t, cp.AdvancePage(365, cp.EndDate.AddDate(0, 0, 1)))

	require.NoError(t, store.Save(ctx, cp))

	loaded, err := store.Load(ctx, "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cp.InstrumentID, loaded.InstrumentID)
	assert.Equal(t, cp.CollectedDays, loaded.CollectedDays)
	assert.Equal(t, models.CollectionInProgress, loaded.Status)
	assert.True(t, loaded.CurrentDate.Equal(cp.CurrentDate))
}

func TestFileStore_LoadMissingReturnsNil(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)

	loaded, err := store.Load(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileStore_MultipleInstruments(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"bitcoin", "ethereum", "solana"} {
		require.NoError(t, store.Save(ctx, newCheckpoint(t, id)))
	}

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Contains(t, all, "ethereum")
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, newCheckpoint(t, "bitcoin")))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	loaded, err := reopened.Load(ctx, "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.CollectionPending, loaded.Status)
}

func TestFileStore_Delete(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newCheckpoint(t, "bitcoin")))
	require.NoError(t, store.Delete(ctx, "bitcoin"))

	loaded, err := store.Load(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting a missing checkpoint is not an error.
	require.NoError(t, store.Delete(ctx, "bitcoin"))
}

func TestFileStore_RejectsInvalidCheckpoint(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)

	bad := newCheckpoint(t, "bitcoin")
	bad.Status = models.CollectionStatus("bogus")
	assert.Error(t, store.Save(context.Background(), bad))
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoints.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, "bitcoin")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoints.json", entries[0].Name())
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cp := newCheckpoint(t, "bitcoin")
	require.NoError(t, cp.Start(time.Now()))
	cp.RecordPageError("first failure")
	require.NoError(t, store.Save(ctx, cp))

	// Mutating the original does not leak into the stored copy.
	cp.RecordPageError("second failure")
	cp.CollectedDays = 999

	loaded, err := store.Load(ctx, "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Errors, 1)
	assert.Zero(t, loaded.CollectedDays)

	// And mutating the loaded copy does not leak back.
	loaded.RecordPageError("third failure")
	again, err := store.Load(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Len(t, again.Errors, 1)
}
