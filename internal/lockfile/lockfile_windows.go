//go:build windows

package lockfile

import (
	"errors"
	"os"
)

// ErrWouldBlock is returned by TryAcquire when another process holds the lock.
var ErrWouldBlock = errors.New("lock is held by another process")

// Lock approximates the unix advisory lock with an O_EXCL marker file. Good
// enough for the CLI's single-user storage directory.
type Lock struct {
	path string
}

// Acquire takes the lock, failing immediately when it is held (windows has
// no blocking flock equivalent without extra syscalls).
func Acquire(path string) (*Lock, error) {
	return TryAcquire(path)
}

// TryAcquire takes the lock without blocking.
func TryAcquire(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	file.Close()
	return &Lock{path: path}, nil
}

// Release drops the lock marker.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
