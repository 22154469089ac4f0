// Package runguard keeps two batch runs from overlapping.
//
// Two signals mark an active run: the status artifact the progress reporter
// maintains, and an advisory file lock held for the life of the run. The
// artifact is the signal external tooling can see; the lock distinguishes a
// live run from an artifact left behind by a crashed one.
package runguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"squish/internal/fileutil"
)

// ErrAlreadyRunning reports that another run holds the guard.
var ErrAlreadyRunning = errors.New("squish run already active")

// State describes what the guard signals currently show.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	// StateStale means the status artifact exists but no process holds the lock.
	StateStale State = "stale"
)

// Guard is held for the duration of one run.
type Guard struct {
	lock       *flock.Flock
	statusFile string
}

// Acquire takes the run lock. It fails with ErrAlreadyRunning when the lock
// is held elsewhere or when the status artifact exists. With clearStale set,
// an artifact whose run no longer holds the lock is removed instead.
func Acquire(statusFile, lockPath string, clearStale bool) (*Guard, error) {
	if dir := filepath.Dir(lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: lock %s held", ErrAlreadyRunning, lockPath)
	}

	if statusFile != "" && fileutil.Exists(statusFile) {
		if !clearStale {
			_ = lock.Unlock()
			return nil, fmt.Errorf("%w: status file %s present", ErrAlreadyRunning, statusFile)
		}
		if err := os.Remove(statusFile); err != nil && !os.IsNotExist(err) {
			_ = lock.Unlock()
			return nil, fmt.Errorf("remove stale status file: %w", err)
		}
	}
	return &Guard{lock: lock, statusFile: statusFile}, nil
}

// Release drops the lock. It is safe to call more than once.
func (g *Guard) Release() error {
	if g == nil || g.lock == nil {
		return nil
	}
	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// Inspect reports the guard state without holding the lock afterwards.
func Inspect(statusFile, lockPath string) (State, error) {
	present := statusFile != "" && fileutil.Exists(statusFile)
	if !fileutil.Exists(lockPath) {
		if present {
			return StateStale, nil
		}
		return StateIdle, nil
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return "", fmt.Errorf("probe run lock: %w", err)
	}
	if !ok {
		return StateRunning, nil
	}
	_ = lock.Unlock()
	if present {
		return StateStale, nil
	}
	return StateIdle, nil
}
