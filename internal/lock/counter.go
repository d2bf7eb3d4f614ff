package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jsonrpc-client/internal/filesystem"
)

const defaultCounterLockTimeout = 5 * time.Second

// FileCounter is a counter persisted in a file and shared by every
// process using the same path. It numbers connections so that id
// prefixes stay unique across invocations of the client.
type FileCounter struct {
	path        string
	fs          filesystem.FileSystemAdapter
	locks       LockManagerInterface
	lockTimeout time.Duration
}

// NewFileCounter creates a counter stored at path.
func NewFileCounter(path string, fs filesystem.FileSystemAdapter, locks LockManagerInterface) *FileCounter {
	return &FileCounter{
		path:        path,
		fs:          fs,
		locks:       locks,
		lockTimeout: defaultCounterLockTimeout,
	}
}

// Path returns the file the counter is stored in.
func (c *FileCounter) Path() string { return c.path }

// Next returns the current value and stores value+1. A missing file
// counts as 0.
func (c *FileCounter) Next(ctx context.Context) (int64, error) {
	if c.path == "" {
		return 0, ErrFilenameRequired
	}
	if err := c.fs.EnsureDir(filepath.Dir(c.path)); err != nil {
		return 0, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()
	fl, err := c.locks.AcquireLock(lockCtx, c.path)
	if err != nil {
		return 0, err
	}
	defer c.locks.ReleaseLock(fl)

	current, err := c.read()
	if err != nil {
		return 0, err
	}
	next := strconv.FormatInt(current+1, 10) + "\n"
	if err := c.fs.WriteFileBytesAtomic(c.path, []byte(next), 0o644); err != nil {
		return 0, fmt.Errorf("storing counter: %w", err)
	}
	return current, nil
}

func (c *FileCounter) read() (int64, error) {
	exists, err := c.fs.FileExists(c.path)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	content, err := c.fs.ReadFileBytes(c.path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("counter file %s is corrupt: %q", c.path, text)
	}
	return n, nil
}
