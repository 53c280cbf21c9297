// Package lock implements an advisory, process-exclusive file lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when the context ends before the lock is acquired.
var ErrTimeout = errors.New("timed out waiting for lock")

// Backoff configures how long Acquire waits between attempts.
type Backoff struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultBackoff suits locks held for a few microseconds at a time.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		JitterFraction: 0.25,
	}
}

func (b *Backoff) delay(attempt int) time.Duration {
	base := float64(b.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(b.MaxBackoff) {
		base = float64(b.MaxBackoff)
	}
	jitter := base * b.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// FileLock is held until Unlock. The lock file is removed on release.
type FileLock struct {
	path string
	file *os.File
}

// Acquire blocks until it holds an exclusive flock on path or ctx is done.
// A nil backoff uses DefaultBackoff.
func Acquire(ctx context.Context, path string, backoff *Backoff) (*FileLock, error) {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	for attempt := 0; ; attempt++ {
		l, err := tryLock(path)
		if err != nil {
			return nil, err
		}
		if l != nil {
			return l, nil
		}
		if err := sleep(ctx, backoff.delay(min(attempt, 30))); err != nil {
			return nil, fmt.Errorf("lock %s: %w: %w", path, ErrTimeout, err)
		}
	}
}

// tryLock returns nil, nil when another process holds the lock.
func tryLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, nil
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	// The previous holder unlinks the file on release. If that happened
	// between our open and flock, we hold a lock on an orphaned inode.
	same, err := sameFile(f, path)
	if err != nil || !same {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, nil
	}
	return &FileLock{path: path, file: f}, nil
}

func sameFile(f *os.File, path string) (bool, error) {
	var held, onDisk unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &held); err != nil {
		return false, err
	}
	if err := unix.Stat(path, &onDisk); err != nil {
		return false, err
	}
	return held.Dev == onDisk.Dev && held.Ino == onDisk.Ino, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Unlock removes the lock file and releases the lock. Calling it more than
// once is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	// Unlink while still holding the lock so the next holder opens a fresh file.
	rmErr := os.Remove(l.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(rmErr, unlockErr, closeErr)
}
