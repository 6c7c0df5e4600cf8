//go:build unix

// Package lock keeps two streak runs from mutating the same working copy.
package lock

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned when another live process holds the lock.
var ErrAlreadyRunning = errors.New("another streak run holds the repository lock")

// HeldError reports the holder of a busy lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%v (pid %d, lock %s)", ErrAlreadyRunning, e.PID, e.Path)
	}
	return fmt.Sprintf("%v (lock %s)", ErrAlreadyRunning, e.Path)
}

func (e *HeldError) Unwrap() error { return ErrAlreadyRunning }

// Locker is an exclusive per-repository lock backed by flock(2).
type Locker struct {
	path string
	pid  int
	fd   *os.File
}

// New returns a Locker for repoPath. The lock file lives in the OS temp dir
// and is keyed by a hash of the absolute repository path.
func New(repoPath string) (*Locker, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve repository path: %w", err)
	}
	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(abs)))[:16]
	return &Locker{
		path: filepath.Join(os.TempDir(), "streakline-"+sum+".lock"),
		pid:  os.Getpid(),
	}, nil
}

// Path returns the lock file path.
func (l *Locker) Path() string { return l.path }

// Acquire takes the lock without blocking. A lock held by another process is
// reported as a *HeldError wrapping ErrAlreadyRunning.
func (l *Locker) Acquire() error {
	if l.fd != nil {
		return nil
	}
	var fd *os.File
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o666)
		if err != nil {
			return fmt.Errorf("open lock file %s: %w", l.path, err)
		}
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
				return &HeldError{Path: l.path, PID: readPID(l.path)}
			}
			return fmt.Errorf("lock %s: %w", l.path, err)
		}
		// The previous holder may have unlinked the file between our open
		// and flock; only a lock on the file still at l.path counts.
		if sameFile(f, l.path) {
			fd = f
			break
		}
		_ = f.Close()
		if attempt == 2 {
			return &HeldError{Path: l.path}
		}
	}
	if err := fd.Truncate(0); err != nil {
		_ = fd.Close()
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := fd.WriteAt([]byte(strconv.Itoa(l.pid)), 0); err != nil {
		_ = fd.Close()
		return fmt.Errorf("write pid to lock file: %w", err)
	}
	l.fd = fd
	return nil
}

// Release drops the lock and removes the lock file. Calling it again, or
// without Acquire, is a no-op.
func (l *Locker) Release() error {
	if l.fd == nil {
		return nil
	}
	fd := l.fd
	l.fd = nil

	// Remove while still holding the flock so a waiter never locks a file
	// that is about to disappear.
	rmErr := os.Remove(l.path)
	unErr := syscall.Flock(int(fd.Fd()), syscall.LOCK_UN)
	closeErr := fd.Close()
	if rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("remove lock file: %w", rmErr)
	}
	if unErr != nil {
		return fmt.Errorf("unlock: %w", unErr)
	}
	return closeErr
}

func sameFile(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func readPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
