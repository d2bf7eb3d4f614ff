package lock

import (
	"context"

	"github.com/gofrs/flock"
)

// FileLock represents a handle to an OS-level file lock.
type FileLock struct {
	FilePath string
	flock    *flock.Flock
}

// LockManagerInterface is what FileCounter needs from a lock manager.
// AcquireLock returns a handle which must be provided back to ReleaseLock.
type LockManagerInterface interface {
	AcquireLock(ctx context.Context, filePath string) (*FileLock, error)
	ReleaseLock(lock *FileLock) error
}
