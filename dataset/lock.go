package dataset

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock is the exclusive writer lock of a dataset database, held on a
// sibling "<db>.lock" file.
type Lock struct {
	path string
	lock *flock.Flock
}

// AcquireLock takes the writer lock for the database at dbPath without
// blocking. It fails with ErrLocked when another writer holds it.
func AcquireLock(dbPath string) (*Lock, error) {
	path := dbPath + ".lock"
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{path: path, lock: l}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks the writer lock.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
