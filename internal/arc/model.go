package arc

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// Unsized is the Size of a SourceFile that has been discovered but not yet stat'd.
const Unsized int64 = -1

// FileTimes holds the filesystem timestamps of a source file.
type FileTimes struct {
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Accessed time.Time `json:"accessed"`
}

// SourceFile is one file on the source filesystem selected for archival.
//
// A file moves monotonically through unsized → sized → assigned → copied.
// Once assigned to a volume it never moves to another one, and once copied it
// is never copied again. Files stay in the index forever as history.
type SourceFile struct {
	Root         string    `json:"root"` // absolute source root the file was found under
	RelativePath string    `json:"path"` // slash separated, starts with the root's name
	Size         int64     `json:"size"`
	Hash         string    `json:"hash,omitempty"`
	Copied       bool      `json:"copied"`
	ArchivedAt   time.Time `json:"archived_at"`
	Times        FileTimes `json:"times"`
	Attributes   string    `json:"attributes,omitempty"`
	VolumeNumber int       `json:"volume"`

	volume *Volume
}

// NewSourceFile creates an unsized, unassigned file under root.
func NewSourceFile(root SourceRoot, relativePath string) *SourceFile {
	return &SourceFile{
		Root:         root.Path,
		RelativePath: relativePath,
		Size:         Unsized,
	}
}

// FullPath returns the file's absolute path on the source filesystem.
func (f *SourceFile) FullPath() string {
	return filepath.Join(filepath.Dir(f.Root), filepath.FromSlash(f.RelativePath))
}

// RelativeDir returns the slash-separated directory of the relative path,
// or "" for a file at the top of its root.
func (f *SourceFile) RelativeDir() string {
	return RelativeDir(f.RelativePath)
}

// Name returns the file's base name.
func (f *SourceFile) Name() string {
	return path.Base(f.RelativePath)
}

// IsSized reports whether the file has been stat'd.
func (f *SourceFile) IsSized() bool {
	return f.Size >= 0
}

// Volume returns the volume the file is assigned to, or nil.
func (f *SourceFile) Volume() *Volume {
	return f.volume
}

// Assigned reports whether the file belongs to a volume.
func (f *SourceFile) Assigned() bool {
	return f.volume != nil
}

// MediumKind identifies the kind of destination medium a volume lives on.
type MediumKind string

const (
	KindDirectory MediumKind = "directory"
	KindHDD       MediumKind = "hdd"
	KindOptical   MediumKind = "optical"
	KindTape      MediumKind = "tape"
	KindS3        MediumKind = "s3"
	KindMemory    MediumKind = "memory"
)

// VerificationResult records one re-read of a finalized volume. Results are
// appended only, never changed or removed.
type VerificationResult struct {
	At    time.Time `json:"at"`
	Valid bool      `json:"valid"`
}

// Volume is one physical destination unit: a disc, a tape cartridge, a
// cold-storage disk or a prefix in a bucket.
//
// A volume is open while it receives files and finalized once its index,
// hash list and summary have been written. A finalized volume never receives
// more files; only its verification history grows.
type Volume struct {
	Set           string               `json:"set"`
	Number        int                  `json:"number"`
	Kind          MediumKind           `json:"kind"`
	Capacity      int64                `json:"capacity"` // ceiling: raw capacity minus the reserved margin
	Committed     int64                `json:"committed"`
	CopiedBytes   int64                `json:"copied_bytes"`
	Finalized     bool                 `json:"finalized"`
	CreatedAt     time.Time            `json:"created_at"`
	FinalizedAt   time.Time            `json:"finalized_at"`
	Hash          string               `json:"hash,omitempty"`
	HashAlgorithm string               `json:"hash_algorithm,omitempty"`
	SealedSize    int64                `json:"sealed_size,omitempty"`
	Files         []*SourceFile        `json:"files"`
	Verifications []VerificationResult `json:"verifications"`
}

// VolumeLabel formats the label of volume number n in set.
func VolumeLabel(set string, n int) string {
	return fmt.Sprintf("%s-%04d", set, n)
}

// Label returns the volume's label, e.g. "disc-0003".
func (v *Volume) Label() string {
	return VolumeLabel(v.Set, v.Number)
}

// Free returns the number of bytes that can still be committed.
func (v *Volume) Free() int64 {
	return v.Capacity - v.Committed
}

// Fits reports whether a file of the given size can still be assigned.
func (v *Volume) Fits(size int64) bool {
	return !v.Finalized && v.Committed+size <= v.Capacity
}

// Link points every file of the volume back at it. Stores call this after
// decoding a volume.
func (v *Volume) Link() {
	for _, f := range v.Files {
		f.volume = v
		f.VolumeNumber = v.Number
	}
}

func (v *Volume) assign(f *SourceFile) error {
	if v.Finalized {
		return fmt.Errorf("%w: %s", ErrVolumeFinalized, v.Label())
	}
	if f.volume != nil {
		return fmt.Errorf("file already assigned to %s: %s", f.volume.Label(), f.RelativePath)
	}
	if !v.Fits(f.Size) {
		return fmt.Errorf("file %s (%d bytes) does not fit on %s (%d bytes free)", f.RelativePath, f.Size, v.Label(), v.Free())
	}
	v.Files = append(v.Files, f)
	v.Committed += f.Size
	f.volume = v
	f.VolumeNumber = v.Number
	return nil
}

// release removes a file that was assigned but never copied.
func (v *Volume) release(f *SourceFile) error {
	if v.Finalized {
		return fmt.Errorf("%w: %s", ErrVolumeFinalized, v.Label())
	}
	if f.Copied {
		return fmt.Errorf("cannot release copied file %s", f.RelativePath)
	}
	for i, vf := range v.Files {
		if vf == f {
			v.Files = append(v.Files[:i], v.Files[i+1:]...)
			v.Committed -= f.Size
			f.volume = nil
			f.VolumeNumber = 0
			return nil
		}
	}
	return fmt.Errorf("file %s is not on %s", f.RelativePath, v.Label())
}

// PendingFiles returns the files not yet copied, in relative-path order.
func (v *Volume) PendingFiles() []*SourceFile {
	var out []*SourceFile
	for _, f := range v.Files {
		if !f.Copied {
			out = append(out, f)
		}
	}
	sortByPath(out)
	return out
}

// CopiedFiles returns the files already written, in relative-path order.
func (v *Volume) CopiedFiles() []*SourceFile {
	var out []*SourceFile
	for _, f := range v.Files {
		if f.Copied {
			out = append(out, f)
		}
	}
	sortByPath(out)
	return out
}

// AddVerification appends a verification result.
func (v *Volume) AddVerification(r VerificationResult) {
	v.Verifications = append(v.Verifications, r)
}

// LastVerification returns the most recent verification result.
func (v *Volume) LastVerification() (VerificationResult, bool) {
	var last VerificationResult
	found := false
	for _, r := range v.Verifications {
		if !found || r.At.After(last.At) {
			last = r
			found = true
		}
	}
	return last, found
}

func sortByPath(files []*SourceFile) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].RelativePath < files[j].RelativePath
	})
}
