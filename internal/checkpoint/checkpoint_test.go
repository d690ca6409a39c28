package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadReturnsZeroValueForUnknownSource(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cp, err := store.Load("/data/raw/2026-01-23.jsonl")
	require.NoError(t, err)
	require.Equal(t, "/data/raw/2026-01-23.jsonl", cp.SourcePath)
	require.Zero(t, cp.LastProcessedOffset)
	require.Empty(t, cp.Status)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var cp = Checkpoint{
		SourcePath:          "/data/raw/2026-01-23.jsonl",
		LastProcessedOffset: 4096,
		LastProcessedKey:    "msg-9",
		RecordCount:         12,
		Status:              StatusCompleted,
		SourceContentHash:   "deadbeef",
	}
	require.NoError(t, store.Save(cp))

	got, err := store.Load(cp.SourcePath)
	require.NoError(t, err)
	require.Equal(t, cp, got)
}

func TestSaveRejectsOffsetRegression(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(Checkpoint{SourcePath: "src", LastProcessedOffset: 100, Status: StatusCompleted}))

	err = store.Save(Checkpoint{SourcePath: "src", LastProcessedOffset: 50, Status: StatusCompleted})
	require.Error(t, err)

	got, err := store.Load("src")
	require.NoError(t, err)
	require.Equal(t, int64(100), got.LastProcessedOffset)
}

func TestHashFileIsStableAndChangesWithContent(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "source.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))
	h3, err := HashFile(path)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
