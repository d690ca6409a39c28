package atomicfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishIsAllOrNothing(t *testing.T) {
	var dir = t.TempDir()
	var target = filepath.Join(dir, "partition", "data.col")

	require.NoError(t, Publish(target, []byte("v1"), 0o644))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))

	require.NoError(t, Publish(target, []byte("v2-longer-payload"), 0o644))
	got, err = os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "v2-longer-payload", string(got))

	// No stray temp files remain in the directory.
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "data.col", entries[0].Name())
}

func TestLockIsMutuallyExclusive(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "partition.lock")

	lockA, err := NewLock(path)
	require.NoError(t, err)
	require.NoError(t, lockA.Acquire(time.Second))

	lockB, err := NewLock(path)
	require.NoError(t, err)
	var err2 = lockB.Acquire(100 * time.Millisecond)
	require.Error(t, err2)

	require.NoError(t, lockA.Release())
	require.NoError(t, lockB.Acquire(time.Second))
	require.NoError(t, lockB.Release())
}

func TestWithLockSerializesConcurrentCallers(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "serial.lock")
	var counter int
	var mu sync.Mutex // guards counter reads in the assertion only
	var wg sync.WaitGroup
	var errs = make(chan error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- WithLock(path, 2*time.Second, func() error {
				mu.Lock()
				counter++
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 8, counter)
}
