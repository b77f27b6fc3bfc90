package arc

import (
	"fmt"
	"sort"
	"time"
)

// ScanStats holds the running counters of one run.
type ScanStats struct {
	New          int   // files found that were never archived
	Existing     int   // files found that are already copied to a volume
	Pending      int   // files found that are assigned to an unfinished volume
	Excluded     int   // files skipped by an exclusion rule
	Deleted      int   // copied files whose source no longer exists
	Released     int   // assigned, uncopied files whose source vanished
	Renamed      int   // new files matched to an archived file
	Sized        int   // files stat'd this run
	PendingBytes int64 // total size of sized, unarchived files
}

// Rename records a new file that the rename heuristic matched to an archived file.
type Rename struct {
	NewPath      string
	ArchivedPath string
	Volume       int
}

// Catalog is the in-memory state of one run for one media set: every known
// source file (loaded from the index or found by the scanner), every volume,
// and the run's counters. It is owned by one pipeline pass at a time.
type Catalog struct {
	Set     string
	Volumes []*Volume
	Stats   ScanStats
	Renames []Rename

	files    map[string]*SourceFile
	seen     map[string]bool
	released map[int]bool
}

// NewCatalog builds a catalog from previously persisted volumes.
func NewCatalog(set string, volumes []*Volume) *Catalog {
	c := &Catalog{
		Set:   set,
		files:    make(map[string]*SourceFile),
		seen:     make(map[string]bool),
		released: make(map[int]bool),
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Number < volumes[j].Number })
	for _, v := range volumes {
		v.Link()
		c.Volumes = append(c.Volumes, v)
		for _, f := range v.Files {
			c.files[f.RelativePath] = f
		}
	}
	return c
}

// Lookup returns the file with the given relative path, or nil.
func (c *Catalog) Lookup(relativePath string) *SourceFile {
	return c.files[relativePath]
}

// Add adds a newly discovered file.
func (c *Catalog) Add(f *SourceFile) error {
	if _, ok := c.files[f.RelativePath]; ok {
		return fmt.Errorf("file already in catalog: %s", f.RelativePath)
	}
	c.files[f.RelativePath] = f
	return nil
}

// Remove drops an unassigned file from the catalog.
func (c *Catalog) Remove(f *SourceFile) error {
	if f.Assigned() {
		return fmt.Errorf("cannot remove assigned file %s", f.RelativePath)
	}
	delete(c.files, f.RelativePath)
	return nil
}

// Len returns the number of known files.
func (c *Catalog) Len() int {
	return len(c.files)
}

// Files returns every known file in relative-path order.
func (c *Catalog) Files() []*SourceFile {
	out := make([]*SourceFile, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	sortByPath(out)
	return out
}

// Unsized returns the files that still need to be stat'd, in relative-path order.
func (c *Catalog) Unsized() []*SourceFile {
	var out []*SourceFile
	for _, f := range c.files {
		if !f.IsSized() {
			out = append(out, f)
		}
	}
	sortByPath(out)
	return out
}

// Unassigned returns sized files that belong to no volume, in relative-path order.
func (c *Catalog) Unassigned() []*SourceFile {
	var out []*SourceFile
	for _, f := range c.files {
		if f.IsSized() && !f.Assigned() {
			out = append(out, f)
		}
	}
	sortByPath(out)
	return out
}

// Archived returns copied files in relative-path order.
func (c *Catalog) Archived() []*SourceFile {
	var out []*SourceFile
	for _, f := range c.files {
		if f.Copied {
			out = append(out, f)
		}
	}
	sortByPath(out)
	return out
}

// OpenVolumes returns volumes that are not finalized, in creation order.
func (c *Catalog) OpenVolumes() []*Volume {
	var out []*Volume
	for _, v := range c.Volumes {
		if !v.Finalized {
			out = append(out, v)
		}
	}
	return out
}

// ReleasedVolumes returns the open volumes that lost files since they were
// loaded, in number order. Their persisted documents are stale.
func (c *Catalog) ReleasedVolumes() []*Volume {
	var out []*Volume
	for _, v := range c.Volumes {
		if c.released[v.Number] && !v.Finalized {
			out = append(out, v)
		}
	}
	return out
}

// FinalizedVolumes returns finalized volumes in number order.
func (c *Catalog) FinalizedVolumes() []*Volume {
	var out []*Volume
	for _, v := range c.Volumes {
		if v.Finalized {
			out = append(out, v)
		}
	}
	return out
}

// Volume returns volume number n, or nil.
func (c *Catalog) Volume(n int) *Volume {
	for _, v := range c.Volumes {
		if v.Number == n {
			return v
		}
	}
	return nil
}

// NextVolumeNumber returns one more than the highest volume number, or 1.
func (c *Catalog) NextVolumeNumber() int {
	max := 0
	for _, v := range c.Volumes {
		if v.Number > max {
			max = v.Number
		}
	}
	return max + 1
}

// NewVolume appends an empty open volume with the next number.
func (c *Catalog) NewVolume(kind MediumKind, capacity int64, createdAt time.Time) *Volume {
	v := &Volume{
		Set:       c.Set,
		Number:    c.NextVolumeNumber(),
		Kind:      kind,
		Capacity:  capacity,
		CreatedAt: createdAt,
	}
	c.Volumes = append(c.Volumes, v)
	return v
}

// MarkSeen records that the scanner visited relativePath this run.
func (c *Catalog) MarkSeen(relativePath string) {
	c.seen[relativePath] = true
}

// Seen reports whether the scanner visited relativePath this run.
func (c *Catalog) Seen(relativePath string) bool {
	return c.seen[relativePath]
}

// Check verifies the catalog's structural invariants: no volume is committed
// beyond its capacity, committed bytes equal the sum of file sizes, and every
// assigned file is known to the catalog.
func (c *Catalog) Check() error {
	for _, v := range c.Volumes {
		var sum int64
		for _, f := range v.Files {
			sum += f.Size
			if f.volume != v {
				return fmt.Errorf("%s lists %s but the file points elsewhere", v.Label(), f.RelativePath)
			}
			if c.files[f.RelativePath] != f {
				return fmt.Errorf("%s lists %s which is not in the catalog", v.Label(), f.RelativePath)
			}
		}
		if sum != v.Committed {
			return fmt.Errorf("%s committed %d bytes but its files total %d", v.Label(), v.Committed, sum)
		}
		if sum > v.Capacity {
			return fmt.Errorf("%s holds %d bytes, over its %d byte capacity", v.Label(), sum, v.Capacity)
		}
	}
	for _, f := range c.files {
		if f.volume != nil && c.Volume(f.volume.Number) != f.volume {
			return fmt.Errorf("%s is assigned to an unknown volume", f.RelativePath)
		}
	}
	return nil
}
