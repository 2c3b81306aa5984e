// Package lockfile provides an advisory lock file that is held by at most
// one process at a time. The lock is released when the process exits.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rogpeppe/go-internal/lockedfile"
)

// ErrLocked is returned by TryAcquire when another process holds the lock.
var ErrLocked = errors.New("lock file is held by another process")

// LockFile is an acquired lock file.
type LockFile struct {
	path string
	f    *lockedfile.File
}

// Path is the path to the lock file.
func (lf *LockFile) Path() string {
	return lf.path
}

// Close releases the lock.
func (lf *LockFile) Close() error {
	if lf.f == nil {
		return os.ErrClosed
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}

// Acquire blocks until the lock file at path is acquired or ctx is done.
func Acquire(ctx context.Context, path string) (*LockFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	type result struct {
		f   *lockedfile.File
		err error
	}
	c := make(chan result, 1)
	go func() {
		f, err := lockedfile.Create(path)
		c <- result{f: f, err: err}
	}()

	select {
	case res := <-c:
		if res.err != nil {
			return nil, res.err
		}

		// Record the owner to ease debugging. Errors are not fatal.
		fmt.Fprintf(res.f, "pid=%d\nstarted=%s\n", os.Getpid(),
			time.Now().Format(time.RFC3339))
		return &LockFile{path: path, f: res.f}, nil

	case <-ctx.Done():
		// The lock may still be acquired later on, so release it if
		// that happens.
		go func() {
			if res := <-c; res.f != nil {
				res.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// TryAcquire attempts to acquire the lock file for up to wait. It returns an
// error wrapping ErrLocked if another process holds it for longer.
func TryAcquire(path string, wait time.Duration) (*LockFile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	lf, err := Acquire(ctx, path)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return lf, err
}
