package repository

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrLockHeld is returned when another process already holds the
// repository's exclusive (or conflicting shared) lock (spec.md §7
// "LockHeld — another backy holds the repository lock; fail fast").
var ErrLockHeld = errors.New("repository: lock held by another process")

// lock wraps the repository's single flock-style lock file (spec.md §4.3).
// Exclusive locks guard every mutating operation; shared locks guard
// read-only operations (status, restore) against a concurrent mutation.
type lock struct {
	f *os.File
}

// acquireLock opens (creating if necessary) the lock file at path and
// takes a non-blocking flock, failing fast with ErrLockHeld on contention
// rather than queueing (spec.md §4.3 "fail fast").
func acquireLock(path string, exclusive bool) (*lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("repository: open lock file %s: %w", path, err)
	}

	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("repository: flock %s: %w", path, err)
	}
	return &lock{f: f}, nil
}

// release unlocks and closes the lock file. It is safe to call on every
// exit path, including after a failed operation (spec.md §4.3: "Lock must
// be released on every exit path including failure").
func (l *lock) release() error {
	defer l.f.Close()
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}
