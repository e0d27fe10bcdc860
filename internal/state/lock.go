package state

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock is an advisory lock guarding a project's state files against
// concurrent sessions. Conflicts resolve last-writer-wins; the lock exists
// to serialize the write itself, not to forbid concurrent sessions.
type FileLock struct {
	f *os.File
}

// AcquireLock takes an exclusive advisory lock on path, blocking until it
// is available. Callers hold the lock across a load-modify-save cycle.
func AcquireLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &FileLock{f: f}, nil
}

// Release drops the lock. Safe to call on a nil lock.
func (l *FileLock) Release() {
	if l == nil || l.f == nil {
		return
	}
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
	l.f = nil
}
