package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// lockPollInterval is how often a contended writer retries the flock.
const lockPollInterval = 25 * time.Millisecond

// writerLock is the OS-level exclusive lock that enforces the single-writer
// discipline per database root. Readers never take it.
type writerLock struct {
	f *os.File
}

// acquireWriterLock takes the exclusive flock on <root>/.lock, polling until
// the context expires. Contention past the deadline surfaces as ErrBusy.
func acquireWriterLock(ctx context.Context, root string) (*writerLock, error) {
	path := filepath.Join(root, ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &writerLock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("%w: writer lock contended: %v", ErrBusy, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// release drops the flock and closes the lock file.
func (l *writerLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if closeErr := l.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	l.f = nil
	return err
}
