package compaction

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting/internal/atomicfile"
	"github.com/sqrtqiezi/diting/internal/checkpoint"
	"github.com/sqrtqiezi/diting/internal/columnar"
)

func messageLine(msgID string) string {
	return fmt.Sprintf(`{"received_at":"2026-01-23T02:00:00Z","client_ip":"10.0.0.1","headers":[],"body_text":"x","body_bytes_length":1,"parsed_object":{"msg_id":%q,"from_username":"u1","to_username":"u2","msg_type":1,"create_time":1769140800,"content":"hello","is_chatroom_msg":0}}`, msgID)
}

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	var root = t.TempDir()
	cpDir := filepath.Join(root, "checkpoints")
	store, err := checkpoint.NewStore(cpDir)
	require.NoError(t, err)

	return &Engine{
		PartitionRoot:   filepath.Join(root, "lake"),
		CheckpointStore: store,
		BatchSize:       10000,
		Compression:     "snappy",
		LockTimeout:     5 * time.Second,
	}, root
}

func writeSourceLog(t *testing.T, root string, lines []string) string {
	t.Helper()
	var path = filepath.Join(root, "2026-01-23.jsonl")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCompactionDedupAndMalformedLineHandling(t *testing.T) {
	engine, root := newEngine(t)
	var source = writeSourceLog(t, root, []string{
		messageLine("A"),
		messageLine("B"),
		messageLine("A"),
		`not json at all`,
		messageLine("C"),
	})

	stats, err := engine.Compact(source)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.NewRecords)
	require.EqualValues(t, 1, stats.DuplicateCount)
	require.EqualValues(t, 1, stats.MalformedCount)

	var partitionDir = columnar.PartitionDir(engine.PartitionRoot, 2026, 1, 23)
	entries, err := os.ReadDir(partitionDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	rows, err := columnar.ReadMessages(filepath.Join(partitionDir, entries[0].Name()), nil, columnar.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	cp, err := engine.CheckpointStore.Load(source)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCompleted, cp.Status)
	require.EqualValues(t, 3, cp.RecordCount)
}

func TestCompactionIsIdempotent(t *testing.T) {
	engine, root := newEngine(t)
	var source = writeSourceLog(t, root, []string{
		messageLine("A"),
		messageLine("B"),
	})

	stats1, err := engine.Compact(source)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats1.NewRecords)

	stats2, err := engine.Compact(source)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats2.NewRecords)
}

func TestCompactionPartitionMatchesCreateTimeUTCDate(t *testing.T) {
	engine, root := newEngine(t)
	// create_time = 1769212800 is 2026-01-24T00:00:00Z: exactly midnight.
	var line = `{"parsed_object":{"msg_id":"midnight","from_username":"u1","to_username":"u2","msg_type":1,"create_time":1769212800,"content":"hi","is_chatroom_msg":0}}`
	var source = writeSourceLog(t, root, []string{line})

	_, err := engine.Compact(source)
	require.NoError(t, err)

	var dir = columnar.PartitionDir(engine.PartitionRoot, 2026, 1, 24)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCompactionConcurrentCompactorsConflict(t *testing.T) {
	engine, root := newEngine(t)
	var source = writeSourceLog(t, root, []string{messageLine("A")})

	var lockPath = filepath.Join(engine.PartitionRoot, ".locks", "compactor.lock")

	// Hold the lock to simulate a concurrent compactor.
	lock, err := atomicfile.NewLock(lockPath)
	require.NoError(t, err)
	require.NoError(t, lock.Acquire(time.Second))
	defer lock.Release()

	engine.LockTimeout = 200 * time.Millisecond
	_, err = engine.Compact(source)
	require.Error(t, err)
}
