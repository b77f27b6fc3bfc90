package device

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"arc-go/internal/arc"
)

// volumeTree is a volume laid out as plain files below root.
type volumeTree struct {
	root string
}

// path maps a slash-separated entry path to a file below the tree root.
func (t volumeTree) path(rel string) (string, error) {
	clean := path.Clean(rel)
	if rel == "" || clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid entry path: %q", rel)
	}
	return filepath.Join(t.root, filepath.FromSlash(clean)), nil
}

func (t volumeTree) prepare() error {
	if err := os.MkdirAll(t.root, 0755); err != nil {
		return fmt.Errorf("failed to create volume directory: %w", err)
	}
	return nil
}

// create truncates any earlier partial copy of the entry.
func (t volumeTree) create(e arc.Entry) (io.WriteCloser, error) {
	p, err := t.path(e.RelativePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &sizedFile{f: f, path: p, want: e.Size}, nil
}

func (t volumeTree) remove(e arc.Entry) error {
	p, err := t.path(e.RelativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// preserveTimes sets the entry's modification and access times on the file
// and on every directory between it and the tree root.
func (t volumeTree) preserveTimes(e arc.Entry) error {
	mtime := e.Times.Modified
	if mtime.IsZero() {
		return nil
	}
	atime := e.Times.Accessed
	if atime.IsZero() {
		atime = mtime
	}

	p, err := t.path(e.RelativePath)
	if err != nil {
		return err
	}
	if err := os.Chtimes(p, atime, mtime); err != nil {
		return fmt.Errorf("setting times on %s: %w", e.RelativePath, err)
	}
	for dir := filepath.Dir(p); dir != t.root && strings.HasPrefix(dir, t.root); dir = filepath.Dir(dir) {
		if err := os.Chtimes(dir, atime, mtime); err != nil {
			return fmt.Errorf("setting times on %s: %w", dir, err)
		}
	}
	return nil
}

// stream frames every regular file below the tree root.
func (t volumeTree) stream() (io.ReadCloser, error) {
	var entries []streamEntry
	err := filepath.WalkDir(t.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		entries = append(entries, streamEntry{
			path: filepath.ToSlash(rel),
			size: info.Size(),
			open: func() (io.ReadCloser, error) { return os.Open(p) },
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("volume not found at %s: %w", t.root, err)
		}
		return nil, fmt.Errorf("listing volume: %w", err)
	}
	return newVolumeStream(entries), nil
}

// sizedFile fails Close when fewer or more bytes than announced were
// written, and removes the partial file.
type sizedFile struct {
	f       *os.File
	path    string
	want    int64
	written int64
}

func (s *sizedFile) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.written += int64(n)
	return n, err
}

func (s *sizedFile) Close() error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if s.want >= 0 && s.written != s.want {
		os.Remove(s.path)
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", s.want, s.written)
	}
	return nil
}
