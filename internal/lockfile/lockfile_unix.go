//go:build !windows

// Package lockfile provides cross-process mutual exclusion for the
// file-backed stores, so a save in one process can never interleave with a
// load in another.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryAcquire when another process holds the lock.
var ErrWouldBlock = errors.New("lock is held by another process")

// Lock is a held advisory lock. Release it on every exit path.
type Lock struct {
	file *os.File
}

// Acquire takes an exclusive advisory lock on path, blocking until it is
// available.
func Acquire(path string) (*Lock, error) {
	return acquire(path, 0)
}

// TryAcquire takes the lock without blocking, returning ErrWouldBlock when
// it is already held.
func TryAcquire(path string) (*Lock, error) {
	return acquire(path, unix.LOCK_NB)
}

func acquire(path string, extraFlags int) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|extraFlags); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. The lock file itself stays behind: unlinking it
// would let a waiter blocked on the old inode and a newcomer locking a
// freshly created file hold the lock at the same time.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
