package filesystem

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemAdapter is the file access used for counter files, batch
// files and config files. It exists so those users can be tested without
// touching the disk.
type FileSystemAdapter interface {
	ReadFileBytes(filePath string) ([]byte, error)
	WriteFileBytesAtomic(filePath string, content []byte, perm os.FileMode) error
	FileExists(filePath string) (bool, error)
	EnsureDir(dir string) error
	SplitLines(content []byte) []string // Uses normalized newlines
}

// DefaultFileSystemAdapter implements FileSystemAdapter with the os package.
type DefaultFileSystemAdapter struct{}

// NewDefaultFileSystemAdapter creates a new DefaultFileSystemAdapter.
func NewDefaultFileSystemAdapter() *DefaultFileSystemAdapter {
	return &DefaultFileSystemAdapter{}
}

// ReadFileBytes reads the entire file into a byte slice.
func (fs *DefaultFileSystemAdapter) ReadFileBytes(filePath string) ([]byte, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s: %w", filePath, err)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading file: %s: %w", filePath, err)
		}
		return nil, fmt.Errorf("failed to read file: %s: %w", filePath, err)
	}
	return content, nil
}

// WriteFileBytesAtomic writes content to a temporary file in the same
// directory and renames it over filePath, so readers never observe a
// partial write.
func (fs *DefaultFileSystemAdapter) WriteFileBytesAtomic(filePath string, content []byte, finalPerm os.FileMode) error {
	dir := filepath.Dir(filePath)

	tempFile, err := os.CreateTemp(dir, filepath.Base(filePath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	// Harmless once the rename succeeded.
	defer os.Remove(tempFile.Name())

	if _, errWrite := tempFile.Write(content); errWrite != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write to temporary file %s: %w", tempFile.Name(), errWrite)
	}
	if errSync := tempFile.Sync(); errSync != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temporary file %s: %w", tempFile.Name(), errSync)
	}
	if errClose := tempFile.Close(); errClose != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", tempFile.Name(), errClose)
	}
	if errRename := os.Rename(tempFile.Name(), filePath); errRename != nil {
		return fmt.Errorf("failed to rename temporary file %s to %s: %w", tempFile.Name(), filePath, errRename)
	}
	if errChmod := os.Chmod(filePath, finalPerm); errChmod != nil {
		return fmt.Errorf("file written to %s, but failed to set final permissions to %o: %w", filePath, finalPerm, errChmod)
	}
	return nil
}

// FileExists checks if a file exists.
func (fs *DefaultFileSystemAdapter) FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("error checking if file exists %s: %w", filePath, err)
}

// EnsureDir creates dir and its parents if they are missing.
func (fs *DefaultFileSystemAdapter) EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// SplitLines splits content into lines after converting \r\n and \r to
// \n. A trailing newline does not produce an extra empty line.
func (fs *DefaultFileSystemAdapter) SplitLines(content []byte) []string {
	if len(content) == 0 {
		return []string{}
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), []byte("\n"))

	s := string(normalized)
	lines := strings.Split(s, "\n")
	if s == "\n" {
		return []string{""}
	}
	if strings.HasSuffix(s, "\n") && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

var _ FileSystemAdapter = (*DefaultFileSystemAdapter)(nil)
