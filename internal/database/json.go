package database

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"arc-go/internal/arc"
	"arc-go/internal/fs"
)

// JSONIndexStore keeps one JSON document per volume and the operation history
// in plain files:
//
//	<dir>/
//	  volumes/
//	    <label>.json
//	  operations.json
//
// Every write goes through a temp file and a rename.
type JSONIndexStore struct {
	dir        string
	volumesDir string
	clock      arc.Clock
	mu         sync.Mutex
}

// NewJSONIndexStore creates a JSON index rooted at dir.
func NewJSONIndexStore(dir string, opts ...Option) (*JSONIndexStore, error) {
	volumesDir := filepath.Join(dir, "volumes")
	if err := os.MkdirAll(volumesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	o := applyOptions(opts)
	return &JSONIndexStore{dir: dir, volumesDir: volumesDir, clock: o.clock}, nil
}

// LoadVolumes decodes every volume document of the set.
func (s *JSONIndexStore) LoadVolumes(set string) ([]*arc.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readVolumes()
	if err != nil {
		return nil, err
	}

	var volumes []*arc.Volume
	for _, v := range all {
		if v.Set == set {
			volumes = append(volumes, v)
		}
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Number < volumes[j].Number })
	return volumes, nil
}

func (s *JSONIndexStore) readVolumes() ([]*arc.Volume, error) {
	entries, err := os.ReadDir(s.volumesDir)
	if err != nil {
		return nil, fmt.Errorf("reading index directory: %w", err)
	}

	var volumes []*arc.Volume
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p := filepath.Join(s.volumesDir, e.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		var v arc.Volume
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		sort.Slice(v.Files, func(i, j int) bool { return v.Files[i].RelativePath < v.Files[j].RelativePath })
		v.Link()
		volumes = append(volumes, &v)
	}
	return volumes, nil
}

// SaveVolume atomically replaces the volume's document.
func (s *JSONIndexStore) SaveVolume(v *arc.Volume) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", v.Label(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPaths(v); err != nil {
		return err
	}

	dest := filepath.Join(s.volumesDir, v.Label()+".json")
	if err := fs.WriteFileAtomic(dest, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("saving %s: %w", v.Label(), err)
	}
	return nil
}

// checkPaths rejects a volume holding a path that another volume of the same
// set already lists.
func (s *JSONIndexStore) checkPaths(v *arc.Volume) error {
	all, err := s.readVolumes()
	if err != nil {
		return err
	}
	owner := make(map[string]string)
	for _, other := range all {
		if other.Set != v.Set || other.Number == v.Number {
			continue
		}
		for _, f := range other.Files {
			owner[f.RelativePath] = other.Label()
		}
	}
	for _, f := range v.Files {
		if label, ok := owner[f.RelativePath]; ok {
			return fmt.Errorf("saving %s: %s is already indexed on %s", v.Label(), f.RelativePath, label)
		}
	}
	return nil
}

func (s *JSONIndexStore) ListSets() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readVolumes()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var sets []string
	for _, v := range all {
		if !seen[v.Set] {
			seen[v.Set] = true
			sets = append(sets, v.Set)
		}
	}
	sort.Strings(sets)
	return sets, nil
}

// Operation tracking

func (s *JSONIndexStore) operationsPath() string {
	return filepath.Join(s.dir, "operations.json")
}

func (s *JSONIndexStore) readOperations() ([]*arc.OperationRecord, error) {
	data, err := os.ReadFile(s.operationsPath())
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading operations: %w", err)
	}
	var ops []*arc.OperationRecord
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decoding operations: %w", err)
	}
	return ops, nil
}

func (s *JSONIndexStore) writeOperations(ops []*arc.OperationRecord) error {
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding operations: %w", err)
	}
	if err := fs.WriteFileAtomic(s.operationsPath(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("saving operations: %w", err)
	}
	return nil
}

func (s *JSONIndexStore) CreateOperation(operation, parameters string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.readOperations()
	if err != nil {
		return 0, err
	}
	var id int64 = 1
	for _, op := range ops {
		if op.ID >= id {
			id = op.ID + 1
		}
	}
	ops = append(ops, &arc.OperationRecord{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  s.clock.Now().UTC(),
		Status:     arc.StatusRunning,
	})
	if err := s.writeOperations(ops); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *JSONIndexStore) FinishOperation(id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.readOperations()
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.ID == id {
			op.FinishedAt = s.clock.Now().UTC()
			op.Status = status
			return s.writeOperations(ops)
		}
	}
	return fmt.Errorf("finishing operation: no operation with id %d", id)
}

func (s *JSONIndexStore) ListOperations(limit int) ([]*arc.OperationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.readOperations()
	if err != nil {
		return nil, err
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID > ops[j].ID })
	if limit >= 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

// Close is a no-op; every write is already on disk.
func (s *JSONIndexStore) Close() error {
	return nil
}

// Compile-time check that JSONIndexStore implements arc.IndexStore interface
var _ arc.IndexStore = (*JSONIndexStore)(nil)
