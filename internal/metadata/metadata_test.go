package metadata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	var path = filepath.Join(t.TempDir(), "metadata.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSchemaDDLIsIdempotent(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "metadata.db")
	store1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := Open(path)
	require.NoError(t, err)
	defer store2.Close()
}

func TestRegisterSchemaVersionIsIdempotent(t *testing.T) {
	var store = newStore(t)
	var now = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.RegisterSchemaVersion("message", 1, `{"fields":[]}`, now))
	require.NoError(t, store.RegisterSchemaVersion("message", 1, `{"fields":[]}`, now))
}

func TestPartitionStatsCacheRoundTrip(t *testing.T) {
	var store = newStore(t)
	var now = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)

	_, ok, err := store.PartitionStats("year=2026/month=01/day=23")
	require.NoError(t, err)
	require.False(t, ok)

	var stats = PartitionStatsCache{
		PartitionDir: "year=2026/month=01/day=23", RowCount: 42, SizeBytes: 1024,
		MinCreateTime: 1769130000, MaxCreateTime: 1769140000, CachedAt: now,
	}
	require.NoError(t, store.UpsertPartitionStats(stats))

	got, ok, err := store.PartitionStats("year=2026/month=01/day=23")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, got.RowCount)

	stats.RowCount = 100
	require.NoError(t, store.UpsertPartitionStats(stats))
	got, _, err = store.PartitionStats("year=2026/month=01/day=23")
	require.NoError(t, err)
	require.EqualValues(t, 100, got.RowCount)
}

func TestAnalysisRunStateMachine(t *testing.T) {
	var store = newStore(t)
	var started = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	var finished = started.Add(time.Minute)

	require.NoError(t, store.StartRun("room1", "2026-01-23", started))
	require.NoError(t, store.TransitionRun("room1", "2026-01-23", RunRunning, time.Time{}, 0, ""))
	require.NoError(t, store.TransitionRun("room1", "2026-01-23", RunCompleted, finished, 3, ""))

	// A repeated run for the same chatroom+date overwrites, per the
	// repeated-analysis-overwrites decision.
	require.NoError(t, store.StartRun("room1", "2026-01-23", started))
}

func TestRecordLineageAppendsEntries(t *testing.T) {
	var store = newStore(t)
	var now = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordLineage("raw/2026-01-23.jsonl", "lake/year=2026/month=01/day=23/a.col", now))
	require.NoError(t, store.RecordLineage("raw/2026-01-23.jsonl", "lake/year=2026/month=01/day=23/b.col", now))
}
