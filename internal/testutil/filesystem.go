package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"arc-go/internal/arc"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content []byte
	Times   arc.FileTimes
}

// MockFilesystemManager is an in-memory filesystem for testing. Paths are
// absolute; parent directories exist implicitly.
type MockFilesystemManager struct {
	mu    sync.Mutex
	files map[string]*MockFile
	dirs  map[string]bool

	// OpenErr, when set, is consulted before every Open.
	OpenErr func(path string) error
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files: make(map[string]*MockFile),
		dirs:  make(map[string]bool),
	}
}

// DefaultFileTime is the creation and modification time of files added with AddFile.
var DefaultFileTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

// AddFile adds a file and its parent directories.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.AddFileWithTimes(path, content, arc.FileTimes{
		Created:  DefaultFileTime,
		Modified: DefaultFileTime,
		Accessed: DefaultFileTime,
	})
}

// AddFileWithTimes adds a file with explicit timestamps.
func (m *MockFilesystemManager) AddFileWithTimes(path string, content []byte, times arc.FileTimes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.files[path] = &MockFile{Content: content, Times: times}
	m.addParentsLocked(path)
}

// AddDirectory adds an empty directory.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.dirs[path] = true
	m.addParentsLocked(path)
}

// RemoveFile deletes a file, simulating a source that vanished.
func (m *MockFilesystemManager) RemoveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, filepath.Clean(path))
}

func (m *MockFilesystemManager) addParentsLocked(path string) {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		m.dirs[dir] = true
		if dir == filepath.Dir(dir) {
			return
		}
	}
}

func notExist(op, path string) error {
	return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
}

func (m *MockFilesystemManager) IsDir(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[filepath.Clean(path)], nil
}

// Walk visits entries below root depth-first with names sorted per
// directory, the same order filepath.WalkDir uses.
func (m *MockFilesystemManager) Walk(root string, fn arc.WalkFunc) error {
	root = filepath.Clean(root)

	m.mu.Lock()
	if !m.dirs[root] {
		m.mu.Unlock()
		return fmt.Errorf("walking directory: %w", notExist("walk", root))
	}
	children := make(map[string][]string)
	add := func(p string) {
		if p == root || !strings.HasPrefix(p, root+string(filepath.Separator)) {
			return
		}
		parent := filepath.Dir(p)
		children[parent] = append(children[parent], filepath.Base(p))
	}
	for p := range m.dirs {
		add(p)
	}
	for p := range m.files {
		add(p)
	}
	isDir := make(map[string]bool, len(m.dirs))
	for p := range m.dirs {
		isDir[p] = true
	}
	m.mu.Unlock()

	var walk func(dir string) error
	walk = func(dir string) error {
		names := children[dir]
		sort.Strings(names)
		for _, name := range names {
			p := filepath.Join(dir, name)
			if err := fn(p, isDir[p]); err != nil {
				if isDir[p] && errors.Is(err, fs.SkipDir) {
					continue
				}
				return err
			}
			if isDir[p] {
				if err := walk(p); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		if errors.Is(err, fs.SkipDir) {
			return nil
		}
		return fmt.Errorf("walking directory: %w", err)
	}
	return nil
}

func (m *MockFilesystemManager) Stat(path string) (*arc.FileMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[filepath.Clean(path)]
	if !ok {
		return nil, notExist("stat", path)
	}
	return &arc.FileMeta{
		Size:       int64(len(f.Content)),
		Times:      f.Times,
		Attributes: "-rw-r--r--",
	}, nil
}

func (m *MockFilesystemManager) Open(path string) (io.ReadCloser, error) {
	if m.OpenErr != nil {
		if err := m.OpenErr(path); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[filepath.Clean(path)]
	if !ok {
		return nil, notExist("open", path)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), f.Content...))), nil
}

// Compile-time check
var _ arc.FilesystemManager = (*MockFilesystemManager)(nil)
