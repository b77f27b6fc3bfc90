package arc

import (
	"errors"
	"io"
	"io/fs"
)

// FileMeta is the result of stat'ing a source file.
type FileMeta struct {
	Size       int64
	Times      FileTimes
	Attributes string
}

// WalkFunc is called for every entry found by FilesystemManager.Walk.
// Returning fs.SkipDir for a directory prunes it.
type WalkFunc func(path string, isDir bool) error

// FilesystemManager provides an interface for source filesystem operations.
// It abstracts file access to enable testing without touching the real filesystem.
type FilesystemManager interface {
	// IsDir reports whether path exists and is a directory. A missing path
	// returns false and a nil error.
	IsDir(path string) (bool, error)

	// Walk visits every regular file and directory below root in lexical
	// order. Symlinks and special files are not reported.
	Walk(root string, fn WalkFunc) error

	// Stat returns size, timestamps and attributes of a file.
	Stat(path string) (*FileMeta, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)
}

// Excluder decides which source paths are left out of the archive.
type Excluder interface {
	// ExcludeDir reports whether a directory is pruned entirely.
	ExcludeDir(fullPath, relativePath string) bool

	// ExcludeFile reports whether a file is skipped.
	ExcludeFile(fullPath, relativePath string) bool
}

// NoExclusions excludes nothing.
type NoExclusions struct{}

func (NoExclusions) ExcludeDir(string, string) bool  { return false }
func (NoExclusions) ExcludeFile(string, string) bool { return false }

// IsNotExist reports whether err means a file does not exist.
func IsNotExist(err error) bool {
	return err != nil && errors.Is(err, fs.ErrNotExist)
}
