package arc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SizeInterval is the minimum time between sizing progress events.
const SizeInterval = 100 * time.Millisecond

// DefaultSizerWorkers is the number of concurrent stat calls.
const DefaultSizerWorkers = 8

// FileSizer stats every unsized file in the catalog.
type FileSizer struct {
	fsmgr   FilesystemManager
	logger  Logger
	clock   Clock
	workers int
}

// NewFileSizer creates a FileSizer. workers < 1 uses DefaultSizerWorkers.
func NewFileSizer(fsmgr FilesystemManager, workers int, logger Logger, clock Clock) *FileSizer {
	if workers < 1 {
		workers = DefaultSizerWorkers
	}
	return &FileSizer{
		fsmgr:   fsmgr,
		logger:  logger,
		clock:   clock,
		workers: workers,
	}
}

// Size records size, timestamps and attributes of every file with no size
// yet and adds the sizes to the catalog's pending total. A file that vanished
// since the scan is dropped from the catalog.
func (s *FileSizer) Size(ctx context.Context, cat *Catalog, progress ProgressFunc) error {
	files := cat.Unsized()
	if len(files) == 0 {
		return nil
	}
	s.logger.Info("sizing files", "count", len(files), "workers", s.workers)

	var mu sync.Mutex
	sample := newSampler(s.clock, SizeInterval)
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta, statErr := s.fsmgr.Stat(f.FullPath())

			mu.Lock()
			defer mu.Unlock()
			done++

			if statErr != nil {
				if IsNotExist(statErr) {
					s.logger.Warn("file vanished before sizing", "path", f.RelativePath)
					cat.Stats.New--
					return cat.Remove(f)
				}
				return fmt.Errorf("stat %s: %w", f.FullPath(), statErr)
			}

			f.Size = meta.Size
			f.Times = meta.Times
			f.Attributes = meta.Attributes
			cat.Stats.Sized++
			cat.Stats.PendingBytes += meta.Size

			if sample.ready() {
				progress.emit(ProgressEvent{
					Stage:      StageSizing,
					Path:       f.RelativePath,
					FilesDone:  done,
					FilesTotal: len(files),
					BytesDone:  cat.Stats.PendingBytes,
					Stats:      cat.Stats,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return cancelled(fmt.Errorf("sizing files: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	s.logger.Info("sizing complete", "files", cat.Stats.Sized, "bytes", cat.Stats.PendingBytes)
	progress.emit(ProgressEvent{
		Stage:      StageSizing,
		FilesDone:  done,
		FilesTotal: len(files),
		BytesDone:  cat.Stats.PendingBytes,
		Stats:      cat.Stats,
	})
	return nil
}
