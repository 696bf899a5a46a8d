package cache

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db)
	require.NoError(t, err)
	return store
}

func sampleEntry() Entry {
	return Entry{
		Fields: map[string]string{
			"summary":  "asked about pricing",
			"intent":   "purchase",
			"interest": "hot",
		},
		Model: "gemini-2.0-flash",
		RunID: "run-1",
	}
}

func TestLookupMissOnEmptyStore(t *testing.T) {
	store := testStore(t)
	_, ok := store.Lookup(context.Background(), "555", "abc")
	assert.False(t, ok)
}

func TestPutThenLookup(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "555", "digest-1", sampleEntry()))

	entry, ok := store.Lookup(ctx, "555", "digest-1")
	require.True(t, ok)
	assert.Equal(t, "purchase", entry.Fields["intent"])
	assert.Equal(t, "gemini-2.0-flash", entry.Model)
	assert.Equal(t, "run-1", entry.RunID)
}

func TestLookupDigestMismatchIsMiss(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "555", "digest-1", sampleEntry()))

	_, ok := store.Lookup(ctx, "555", "digest-2")
	assert.False(t, ok, "a changed conversation must not serve the stale entry")
}

func TestPutOverwritesPreviousEntry(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "555", "digest-1", sampleEntry()))

	updated := sampleEntry()
	updated.Fields["intent"] = "unsubscribe"
	updated.RunID = "run-2"
	require.NoError(t, store.Put(ctx, "555", "digest-2", updated))

	// Old digest no longer hits, new one does.
	_, ok := store.Lookup(ctx, "555", "digest-1")
	assert.False(t, ok)

	entry, ok := store.Lookup(ctx, "555", "digest-2")
	require.True(t, ok)
	assert.Equal(t, "unsubscribe", entry.Fields["intent"])
	assert.Equal(t, "run-2", entry.RunID)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries, "upsert must not create a second row")
}

func TestLookupCorruptPayloadIsMiss(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		INSERT INTO lead_analyses (phone, digest, payload, model, run_id, updated_at)
		VALUES ('555', 'digest-1', 'not json', 'm', 'r', '2024-05-01T00:00:00Z')
	`)
	require.NoError(t, err)

	_, ok := store.Lookup(ctx, "555", "digest-1")
	assert.False(t, ok)
}

func TestGetStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	a := sampleEntry()
	require.NoError(t, store.Put(ctx, "1", "d1", a))
	require.NoError(t, store.Put(ctx, "2", "d2", a))

	b := sampleEntry()
	b.Model = "gemini-1.5-flash"
	require.NoError(t, store.Put(ctx, "3", "d3", b))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 2, stats.Models["gemini-2.0-flash"])
	assert.Equal(t, 1, stats.Models["gemini-1.5-flash"])
}

func TestClear(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "555", "d", sampleEntry()))
	require.NoError(t, store.Clear(ctx))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)

	_, ok := store.Lookup(ctx, "555", "d")
	assert.False(t, ok)
}

func TestOpenCreatesFileDatabase(t *testing.T) {
	path := t.TempDir() + "/cache.db"
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "555", "d", sampleEntry()))
	_, ok := store.Lookup(ctx, "555", "d")
	assert.True(t, ok)
}
