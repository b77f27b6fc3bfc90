package arc

import (
	"context"
	"fmt"
	"io/fs"
	"time"
)

// ScanInterval is the minimum time between scan progress events.
const ScanInterval = 100 * time.Millisecond

// FileScanner walks the source roots and classifies every file it finds as
// new, existing, pending or excluded.
type FileScanner struct {
	fsmgr    FilesystemManager
	excluder Excluder
	logger   Logger
	clock    Clock
}

// NewFileScanner creates a FileScanner. A nil excluder excludes nothing.
func NewFileScanner(fsmgr FilesystemManager, excluder Excluder, logger Logger, clock Clock) *FileScanner {
	if excluder == nil {
		excluder = NoExclusions{}
	}
	return &FileScanner{
		fsmgr:    fsmgr,
		excluder: excluder,
		logger:   logger,
		clock:    clock,
	}
}

// Scan enumerates every file under roots into cat.
//
// A file already copied to a volume is counted as existing and not added
// again. A file assigned to an unfinished volume is counted as pending. Any
// other file becomes a new, unsized SourceFile. Excluded files are counted
// but never added, and excluded directories are not descended into.
//
// Every root must exist; a missing root aborts the scan before the catalog is
// touched. After the walk, files of an unfinished volume whose source has
// disappeared are released from that volume.
func (s *FileScanner) Scan(ctx context.Context, cat *Catalog, roots []SourceRoot, progress ProgressFunc) error {
	for _, root := range roots {
		ok, err := s.fsmgr.IsDir(root.Path)
		if err != nil {
			return fmt.Errorf("checking source root %s: %w", root.Path, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrSourceRootMissing, root.Path)
		}
	}

	sample := newSampler(s.clock, ScanInterval)
	for _, root := range roots {
		s.logger.Info("scanning source root", "root", root.Path)

		err := s.fsmgr.Walk(root.Path, func(full string, isDir bool) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := RelativePath(root, full)
			if err != nil {
				return err
			}

			if isDir {
				if s.excluder.ExcludeDir(full, rel) {
					s.logger.Debug("directory excluded", "path", rel)
					return fs.SkipDir
				}
				return nil
			}

			if s.excluder.ExcludeFile(full, rel) {
				cat.Stats.Excluded++
				s.logger.Debug("file excluded", "path", rel)
			} else if err := s.visit(cat, root, rel); err != nil {
				return err
			}

			if sample.ready() {
				progress.emit(ProgressEvent{Stage: StageScanning, Path: rel, Stats: cat.Stats})
			}
			return nil
		})
		if err != nil {
			return cancelled(fmt.Errorf("scanning %s: %w", root.Path, err))
		}
	}

	if err := s.reconcile(cat, roots); err != nil {
		return err
	}

	s.logger.Info("scan complete",
		"new", cat.Stats.New,
		"existing", cat.Stats.Existing,
		"pending", cat.Stats.Pending,
		"excluded", cat.Stats.Excluded,
		"deleted", cat.Stats.Deleted,
		"released", cat.Stats.Released,
	)
	progress.emit(ProgressEvent{Stage: StageScanning, Stats: cat.Stats})
	return nil
}

func (s *FileScanner) visit(cat *Catalog, root SourceRoot, rel string) error {
	cat.MarkSeen(rel)

	f := cat.Lookup(rel)
	switch {
	case f == nil:
		if err := cat.Add(NewSourceFile(root, rel)); err != nil {
			return err
		}
		cat.Stats.New++
	case f.Copied:
		cat.Stats.Existing++
	case f.Assigned():
		cat.Stats.Pending++
		cat.Stats.PendingBytes += f.Size
	default:
		cat.Stats.New++
	}
	return nil
}

// reconcile handles catalog files under the scanned roots that the walk did
// not visit. Copied files stay in the index as history. Files still waiting
// on an unfinished volume are released so the copy pass does not fail on them.
func (s *FileScanner) reconcile(cat *Catalog, roots []SourceRoot) error {
	scanned := make(map[string]bool, len(roots))
	for _, r := range roots {
		scanned[r.Path] = true
	}

	for _, f := range cat.Files() {
		if !scanned[f.Root] || cat.Seen(f.RelativePath) {
			continue
		}
		switch {
		case f.Copied:
			cat.Stats.Deleted++
		case f.Assigned() && !f.Volume().Finalized:
			v := f.Volume()
			label := v.Label()
			if err := v.release(f); err != nil {
				return fmt.Errorf("releasing vanished file: %w", err)
			}
			cat.released[v.Number] = true
			if err := cat.Remove(f); err != nil {
				return err
			}
			cat.Stats.Released++
			s.logger.Warn("pending file vanished, released from volume", "path", f.RelativePath, "volume", label)
		}
	}
	return nil
}
