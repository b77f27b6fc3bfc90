package arc

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// AllocateInterval is the minimum time between allocation progress events.
const AllocateInterval = 250 * time.Millisecond

// VolumeAllocator assigns sized, unassigned files to volumes.
//
// Files are placed largest first into the first open volume with room,
// opening a new volume when none has room. The capacity ceiling is computed
// once from the raw capacity and the reserved margin and never per file.
type VolumeAllocator struct {
	kind    MediumKind
	ceiling int64
	logger  Logger
	clock   Clock
}

// NewVolumeAllocator creates an allocator for volumes of the given raw
// capacity, of which reserved bytes are withheld for index files.
func NewVolumeAllocator(kind MediumKind, capacity, reserved int64, logger Logger, clock Clock) (*VolumeAllocator, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidCapacity, capacity)
	}
	if reserved < 0 || reserved >= capacity {
		return nil, fmt.Errorf("%w: reserved %d of %d bytes", ErrInvalidCapacity, reserved, capacity)
	}
	return &VolumeAllocator{
		kind:    kind,
		ceiling: capacity - reserved,
		logger:  logger,
		clock:   clock,
	}, nil
}

// Ceiling returns the usable bytes of a new volume.
func (a *VolumeAllocator) Ceiling() int64 {
	return a.ceiling
}

// Allocate assigns every sized, unassigned file in cat and returns the
// volumes that received files, in number order. Files that are already
// assigned never move. A file larger than the ceiling fails the whole
// allocation before anything is assigned.
func (a *VolumeAllocator) Allocate(ctx context.Context, cat *Catalog, progress ProgressFunc) ([]*Volume, error) {
	files := cat.Unassigned()
	// Unassigned is in path order, so equal sizes keep a stable path order.
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Size > files[j].Size
	})

	for _, f := range files {
		if f.Size > a.ceiling {
			return nil, fmt.Errorf("%w: %s is %d bytes, volumes hold %d", ErrFileTooLarge, f.RelativePath, f.Size, a.ceiling)
		}
	}

	open := cat.OpenVolumes()
	touched := make(map[int]*Volume)
	sample := newSampler(a.clock, AllocateInterval)

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		var target *Volume
		for _, v := range open {
			if v.Fits(f.Size) {
				target = v
				break
			}
		}
		if target == nil {
			target = cat.NewVolume(a.kind, a.ceiling, a.clock.Now())
			open = append(open, target)
			a.logger.Info("volume created", "volume", target.Label(), "capacity", target.Capacity)
		}

		if err := target.assign(f); err != nil {
			return nil, fmt.Errorf("assigning %s: %w", f.RelativePath, err)
		}
		touched[target.Number] = target
		a.logger.Debug("file assigned", "path", f.RelativePath, "size", f.Size, "volume", target.Label())

		if sample.ready() || i == len(files)-1 {
			progress.emit(ProgressEvent{
				Stage:          StageAllocating,
				Path:           f.RelativePath,
				FilesDone:      i + 1,
				FilesTotal:     len(files),
				VolumesTouched: len(touched),
				Stats:          cat.Stats,
			})
		}
	}

	out := make([]*Volume, 0, len(touched))
	for _, v := range touched {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })

	a.logger.Info("allocation complete", "files", len(files), "volumes", len(out))
	return out, nil
}
