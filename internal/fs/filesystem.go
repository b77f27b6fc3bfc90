package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"arc-go/internal/arc"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
// It performs actual filesystem operations using the os package.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

// IsDir reports whether path exists and is a directory.
func (m *OSFilesystemManager) IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat path: %w", err)
	}
	return info.IsDir(), nil
}

// Walk visits every directory and regular file below root in lexical order.
// Symlinks, devices, pipes and sockets are skipped.
func (m *OSFilesystemManager) Walk(root string, fn arc.WalkFunc) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if d.IsDir() {
			return fn(p, true)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(p, false)
	})
	if err != nil {
		return fmt.Errorf("walking directory: %w", err)
	}
	return nil
}

// Stat returns size, timestamps and attributes of a regular file.
func (m *OSFilesystemManager) Stat(path string) (*arc.FileMeta, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	return &arc.FileMeta{
		Size:       info.Size(),
		Times:      fileTimes(path, info),
		Attributes: info.Mode().String(),
	}, nil
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Compile-time check that OSFilesystemManager implements arc.FilesystemManager interface
var _ arc.FilesystemManager = (*OSFilesystemManager)(nil)
