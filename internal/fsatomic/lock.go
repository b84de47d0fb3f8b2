package fsatomic

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// FileLock is an advisory flock on a sibling lock file.
type FileLock struct {
	file *os.File
	path string
}

const lockRetryInterval = 50 * time.Millisecond

// AcquireLock takes an exclusive lock on path, polling until timeout. A
// lock that cannot be acquired within the timeout is considered stale: the
// lock file is removed and acquisition is attempted once more on a fresh
// file, so a crashed holder cannot block every future run.
func AcquireLock(path string, timeout time.Duration) (*FileLock, error) {
	return acquire(path, timeout, syscall.LOCK_EX)
}

// AcquireShared takes a shared lock for readers.
func AcquireShared(path string, timeout time.Duration) (*FileLock, error) {
	return acquire(path, timeout, syscall.LOCK_SH)
}

func acquire(path string, timeout time.Duration, how int) (*FileLock, error) {
	deadline := time.Now().Add(timeout)
	for {
		l, err := tryLock(path, how)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, err
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(lockRetryInterval)
	}

	// Stale takeover: remove the contested lock file and lock a fresh one.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale lock %s: %w", path, err)
	}
	l, err := tryLock(path, how)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s after stale takeover: %w", path, err)
	}
	return l, nil
}

func tryLock(path string, how int) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	for {
		err = syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
		if err == nil {
			return &FileLock{file: f, path: path}, nil
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		f.Close()
		return nil, err
	}
}

// Release unlocks and removes the lock file.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return closeErr
}
