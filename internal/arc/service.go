package arc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"arc-go/internal/digest"
)

// MediaSet is a named sequence of volumes written through one device.
type MediaSet struct {
	Name     string
	Capacity int64 // raw bytes per volume
	Reserved int64 // bytes withheld per volume for index files
	Device   Device
}

// Options holds the pipeline settings of an ArcService.
type Options struct {
	Sources            []string
	Excluder           Excluder
	CheckpointInterval time.Duration
	PollInterval       time.Duration
	Freshness          time.Duration
	Digest             digest.Algorithm
	PreserveTimes      bool
	DetectRenames      bool
	BufferSize         int
	ProgressInterval   time.Duration
	SizerWorkers       int
	Reports            ReportSink
}

// ArcService is the orchestration layer that runs the archive pipeline and
// verification for one media set.
type ArcService struct {
	store  IndexStore
	fsmgr  FilesystemManager
	set    MediaSet
	opts   Options
	logger Logger
	clock  Clock
}

// NewArcService creates a new ArcService with the provided dependencies.
func NewArcService(store IndexStore, fsmgr FilesystemManager, set MediaSet, opts Options, logger Logger, clock Clock) *ArcService {
	if opts.Digest == "" {
		opts.Digest = digest.Default
	}
	return &ArcService{
		store:  store,
		fsmgr:  fsmgr,
		set:    set,
		opts:   opts,
		logger: logger,
		clock:  clock,
	}
}

// MediaSet returns the media set the service works on.
func (s *ArcService) MediaSet() MediaSet {
	return s.set
}

// Plan is the outcome of scanning, sizing and allocating: what an archive
// run would write.
type Plan struct {
	Catalog      *Catalog
	Volumes      []*Volume // open volumes with files, in processing order
	Emptied      []*Volume // open volumes left without files by released vanished files
	NewVolumes   int       // volumes created by this allocation
	PendingFiles int
	PendingBytes int64
}

// Plan loads the persisted index, scans the sources, sizes new files,
// optionally detects renames, and allocates new files to volumes. Nothing is
// persisted; a plan that is never archived leaves no trace.
func (s *ArcService) Plan(ctx context.Context, progress ProgressFunc) (*Plan, error) {
	roots, err := NormalizeRoots(s.opts.Sources)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no source roots configured")
	}
	allocator, err := NewVolumeAllocator(s.set.Device.Kind(), s.set.Capacity, s.set.Reserved, s.logger, s.clock)
	if err != nil {
		return nil, err
	}

	volumes, err := s.store.LoadVolumes(s.set.Name)
	if err != nil {
		return nil, fmt.Errorf("loading volumes: %w", err)
	}
	cat := NewCatalog(s.set.Name, volumes)
	before := cat.NextVolumeNumber()
	s.logger.Info("index loaded", "set", s.set.Name, "volumes", len(volumes), "files", cat.Len())

	scanner := NewFileScanner(s.fsmgr, s.opts.Excluder, s.logger, s.clock)
	if err := scanner.Scan(ctx, cat, roots, progress); err != nil {
		return nil, err
	}

	sizer := NewFileSizer(s.fsmgr, s.opts.SizerWorkers, s.logger, s.clock)
	if err := sizer.Size(ctx, cat, progress); err != nil {
		return nil, err
	}

	if s.opts.DetectRenames {
		if err := NewRenameDetector(s.logger).Detect(ctx, cat, progress); err != nil {
			return nil, err
		}
	}

	if _, err := allocator.Allocate(ctx, cat, progress); err != nil {
		return nil, err
	}
	if err := cat.Check(); err != nil {
		return nil, fmt.Errorf("catalog inconsistent after allocation: %w", err)
	}

	plan := &Plan{
		Catalog:    cat,
		NewVolumes: cat.NextVolumeNumber() - before,
	}
	for _, v := range cat.ReleasedVolumes() {
		if len(v.Files) == 0 {
			plan.Emptied = append(plan.Emptied, v)
		}
	}
	for _, v := range cat.OpenVolumes() {
		if len(v.Files) == 0 {
			continue
		}
		plan.Volumes = append(plan.Volumes, v)
		for _, f := range v.PendingFiles() {
			plan.PendingFiles++
			plan.PendingBytes += f.Size
		}
	}
	return plan, nil
}

// Archive writes every volume of the plan.
func (s *ArcService) Archive(ctx context.Context, plan *Plan, progress ProgressFunc) error {
	proc := NewArchiveProcessor(s.store, s.fsmgr, s.set.Device, ProcessorOptions{
		CheckpointInterval: s.opts.CheckpointInterval,
		PollInterval:       s.opts.PollInterval,
		Digest:             s.opts.Digest,
		Reports:            s.opts.Reports,
		Copier: CopierOptions{
			BufferSize:       s.opts.BufferSize,
			ProgressInterval: s.opts.ProgressInterval,
			PreserveTimes:    s.opts.PreserveTimes,
		},
	}, s.logger, s.clock)

	// An emptied volume is never processed, so its document is rewritten here.
	for _, v := range plan.Emptied {
		if err := s.store.SaveVolume(v); err != nil {
			return fmt.Errorf("saving %s: %w", v.Label(), err)
		}
		s.logger.Info("volume emptied", "volume", v.Label())
	}

	for _, v := range plan.Volumes {
		if v.Finalized {
			continue
		}
		if err := proc.ProcessVolume(ctx, plan.Catalog, v, progress); err != nil {
			return err
		}
	}
	return nil
}

// Verify verifies finalized volumes of the media set. With no numbers every
// finalized volume is considered; otherwise only the given ones.
func (s *ArcService) Verify(ctx context.Context, numbers []int, force bool, progress ProgressFunc) ([]VerifyOutcome, error) {
	volumes, err := s.store.LoadVolumes(s.set.Name)
	if err != nil {
		return nil, fmt.Errorf("loading volumes: %w", err)
	}
	cat := NewCatalog(s.set.Name, volumes)

	var selected []*Volume
	if len(numbers) == 0 {
		selected = cat.FinalizedVolumes()
	} else {
		for _, n := range numbers {
			v := cat.Volume(n)
			if v == nil {
				return nil, fmt.Errorf("volume %s not found", VolumeLabel(s.set.Name, n))
			}
			if !v.Finalized {
				return nil, fmt.Errorf("volume %s is not finalized", v.Label())
			}
			selected = append(selected, v)
		}
	}

	verifier := NewMediaVerifier(s.store, s.set.Device, VerifierOptions{
		Freshness:        s.opts.Freshness,
		PollInterval:     s.opts.PollInterval,
		BufferSize:       s.opts.BufferSize,
		ProgressInterval: s.opts.ProgressInterval,
	}, s.logger, s.clock)
	return verifier.Verify(ctx, selected, force, progress)
}

// VolumeSummary is one row of the media set summary.
type VolumeSummary struct {
	Number         int
	Label          string
	Kind           MediumKind
	Files          int
	Capacity       int64
	Committed      int64
	CopiedBytes    int64
	Finalized      bool
	FinalizedAt    time.Time
	Verified       bool
	LastVerifiedAt time.Time
	LastValid      bool
	VerifyDue      bool
}

// Summary returns one row per persisted volume of the media set.
func (s *ArcService) Summary() ([]*VolumeSummary, error) {
	volumes, err := s.store.LoadVolumes(s.set.Name)
	if err != nil {
		return nil, fmt.Errorf("loading volumes: %w", err)
	}
	verifier := NewMediaVerifier(s.store, s.set.Device, VerifierOptions{Freshness: s.opts.Freshness}, s.logger, s.clock)
	now := s.clock.Now()

	rows := make([]*VolumeSummary, 0, len(volumes))
	for _, v := range volumes {
		row := &VolumeSummary{
			Number:      v.Number,
			Label:       v.Label(),
			Kind:        v.Kind,
			Files:       len(v.Files),
			Capacity:    v.Capacity,
			Committed:   v.Committed,
			CopiedBytes: v.CopiedBytes,
			Finalized:   v.Finalized,
			FinalizedAt: v.FinalizedAt,
			VerifyDue:   v.Finalized && verifier.Due(v, now),
		}
		if last, ok := v.LastVerification(); ok {
			row.Verified = true
			row.LastVerifiedAt = last.At
			row.LastValid = last.Valid
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })
	return rows, nil
}

// Search returns indexed files of the media set whose relative path
// contains term, ignoring case, in relative-path order.
func (s *ArcService) Search(term string) ([]*SourceFile, error) {
	volumes, err := s.store.LoadVolumes(s.set.Name)
	if err != nil {
		return nil, fmt.Errorf("loading volumes: %w", err)
	}
	needle := strings.ToLower(term)

	var out []*SourceFile
	for _, f := range NewCatalog(s.set.Name, volumes).Files() {
		if strings.Contains(strings.ToLower(f.RelativePath), needle) {
			out = append(out, f)
		}
	}
	return out, nil
}

// History returns the most recent operations, newest first.
func (s *ArcService) History(limit int) ([]*OperationRecord, error) {
	ops, err := s.store.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
