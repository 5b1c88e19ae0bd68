package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockFile           = "savecontext.lock"
	defaultLockTimeout = 5 * time.Second
	initialLockBackoff = 5 * time.Millisecond
	maxLockBackoff     = 50 * time.Millisecond
)

// writeLocker serializes writers across processes with an OS file lock next
// to the database file.
type writeLocker struct {
	path string
	f    *os.File
}

func newWriteLocker(dir string) *writeLocker {
	return &writeLocker{path: filepath.Join(dir, lockFile)}
}

// acquire takes the exclusive lock, polling with exponential backoff until
// timeout. A timeout is reported as ErrBusy.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	backoff := initialLockBackoff
	for {
		if err := tryLockFile(f); err == nil {
			l.f = f
			return nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return &Error{Kind: ErrBusy, Op: "acquire write lock", Msg: fmt.Sprintf("timeout after %v", timeout)}
		}
		time.Sleep(backoff)
		if backoff < maxLockBackoff {
			backoff *= 2
			if backoff > maxLockBackoff {
				backoff = maxLockBackoff
			}
		}
	}
}

func (l *writeLocker) release() {
	if l.f == nil {
		return
	}
	unlockFile(l.f)
	l.f.Close()
	l.f = nil
}
