package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Lock when another agent holds the lock.
var ErrAlreadyRunning = errors.New("another agent is already running")

// DefaultLockPath is the lock file shared by agents on one machine.
func DefaultLockPath() string {
	return filepath.Join(os.TempDir(), "remotedesk-agent.lock")
}

// Lock takes the single-instance lock at path. The returned function releases
// it.
func Lock(path string) (func() error, error) {
	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return fileLock.Unlock, nil
}
