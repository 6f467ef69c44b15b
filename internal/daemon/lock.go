package daemon

import (
	"fmt"

	"github.com/gofrs/flock"

	"doorkeeper/internal/faults"
)

// InstanceLock keeps a second daemon off the same data directory.
type InstanceLock struct {
	path string
	lock *flock.Flock
}

// AcquireInstanceLock takes the daemon lock without blocking. Contention is
// reported as a startup-fatal error.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, faults.Wrap(faults.ErrStartupFatal, "daemon", "lock", "another doorkeeper daemon instance is already running", nil)
	}
	return &InstanceLock{path: path, lock: lock}, nil
}

// Path returns the lock file location.
func (l *InstanceLock) Path() string { return l.path }

// Release drops the lock.
func (l *InstanceLock) Release() error {
	if l == nil {
		return nil
	}
	return l.lock.Unlock()
}
