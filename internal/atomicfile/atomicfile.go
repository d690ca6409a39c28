// Package atomicfile implements the two primitives every other pipeline
// stage is built on: atomic publish (write-temp-then-rename) and advisory
// exclusive locking. Both fail with a single IoError kind so callers never
// have to special-case filesystem error types.
package atomicfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// Publish atomically replaces targetPath's contents with payload: it writes
// a sibling temp file under the same directory, fsyncs it, renames it over
// the target, then fsyncs the containing directory. A concurrent reader
// either sees the old contents (or an absent file) or the full new
// contents, never a partial write.
func Publish(targetPath string, payload []byte, perm os.FileMode) error {
	var dir = filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classifyErr("creating parent directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(targetPath)+"-*")
	if err != nil {
		return classifyErr("creating temp file", err)
	}
	var tmpPath = tmp.Name()
	// Best-effort cleanup if we fail before the rename.
	var renamed bool
	defer func() {
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return classifyErr("writing temp file", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return classifyErr("chmod temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return classifyErr("fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return classifyErr("closing temp file", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return classifyErr("renaming into place", err)
	}
	renamed = true

	if err := syncDir(dir); err != nil {
		return classifyErr("fsync containing directory", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func classifyErr(message string, cause error) *chatlakeerr.IoError {
	var reason = chatlakeerr.IoOther
	switch {
	case errors.Is(cause, syscall.ENOSPC):
		reason = chatlakeerr.IoDiskFull
	case errors.Is(cause, os.ErrPermission), errors.Is(cause, syscall.EACCES):
		reason = chatlakeerr.IoPermission
	}
	return chatlakeerr.NewIoError(reason, message, cause)
}

// Lock is an advisory exclusive lock, cooperating with all other processes
// that lock the same path, automatically released on process crash because
// it is held via an open file descriptor.
type Lock struct {
	fl *flock.Flock
}

// NewLock prepares (without acquiring) an advisory lock at path. The lock
// file's parent directory is created if missing.
func NewLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, classifyErr("creating lock directory", err)
	}
	return &Lock{fl: flock.New(path)}, nil
}

// Acquire blocks until the lock is held or timeout elapses, returning
// IoError{timeout} in the latter case.
func (l *Lock) Acquire(timeout time.Duration) error {
	var ctx, cancel = context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ok, err := l.fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return chatlakeerr.NewIoError(chatlakeerr.IoTimeout,
				fmt.Sprintf("timed out acquiring lock %q after %s", l.fl.Path(), timeout), err)
		}
		return classifyErr("acquiring lock", err)
	}
	if !ok {
		return chatlakeerr.NewIoError(chatlakeerr.IoTimeout,
			fmt.Sprintf("timed out acquiring lock %q after %s", l.fl.Path(), timeout), nil)
	}
	return nil
}

// Release gives up the lock. Safe to call even if Acquire failed.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return classifyErr("releasing lock", err)
	}
	return nil
}

// WithLock acquires the lock, runs fn, and always releases it afterward.
func WithLock(path string, timeout time.Duration, fn func() error) error {
	lock, err := NewLock(path)
	if err != nil {
		return err
	}
	if err := lock.Acquire(timeout); err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
