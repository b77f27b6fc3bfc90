package arc

import (
	"context"
	"path"
	"strings"
	"time"
)

// RenameDetector matches new files against archived files by size,
// extension and creation time, so a moved or renamed file is not archived
// a second time.
//
// The first archived candidate in relative-path order wins, and a candidate
// can match any number of new files. Files without a creation time are never
// matched.
type RenameDetector struct {
	logger Logger
}

// NewRenameDetector creates a RenameDetector.
func NewRenameDetector(logger Logger) *RenameDetector {
	return &RenameDetector{logger: logger}
}

type renameKey struct {
	size    int64
	ext     string
	created time.Time
}

func keyOf(f *SourceFile) renameKey {
	return renameKey{
		size:    f.Size,
		ext:     strings.ToLower(path.Ext(f.RelativePath)),
		created: f.Times.Created.UTC(),
	}
}

// Detect removes matched new files from cat and records them in cat.Renames.
func (d *RenameDetector) Detect(ctx context.Context, cat *Catalog, progress ProgressFunc) error {
	candidates := make(map[renameKey]*SourceFile)
	for _, f := range cat.Archived() {
		if f.Times.Created.IsZero() {
			continue
		}
		k := keyOf(f)
		if _, ok := candidates[k]; !ok {
			candidates[k] = f
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	files := cat.Unassigned()
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		if f.Times.Created.IsZero() {
			continue
		}
		match, ok := candidates[keyOf(f)]
		if !ok {
			continue
		}
		if err := cat.Remove(f); err != nil {
			return err
		}
		cat.Renames = append(cat.Renames, Rename{
			NewPath:      f.RelativePath,
			ArchivedPath: match.RelativePath,
			Volume:       match.VolumeNumber,
		})
		cat.Stats.Renamed++
		cat.Stats.PendingBytes -= f.Size
		d.logger.Info("renamed file detected", "path", f.RelativePath, "archived_as", match.RelativePath, "volume", match.VolumeNumber)
		progress.emit(ProgressEvent{
			Stage:      StageDetectingRenames,
			Path:       f.RelativePath,
			FilesDone:  i + 1,
			FilesTotal: len(files),
			Stats:      cat.Stats,
		})
	}
	return nil
}
