package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 20 * time.Millisecond

// ProcessLock is an exclusive lock held through a lock file, so it excludes
// other goroutines of this process and every other process using the same file.
type ProcessLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

// NewProcessLock returns a lock on path. The file is created on first use.
func NewProcessLock(path string) *ProcessLock {
	return &ProcessLock{fl: flock.New(path)}
}

// Lock blocks until the lock is held or ctx is done.
func (l *ProcessLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	locked, err := l.fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		l.mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("failed to acquire lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Unlock releases a lock taken with Lock.
func (l *ProcessLock) Unlock() error {
	defer l.mu.Unlock()
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.fl.Path(), err)
	}
	return nil
}
