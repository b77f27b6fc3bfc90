package arc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arc-go/internal/digest"
)

// DefaultCheckpointInterval is the time between index checkpoints while copying.
const DefaultCheckpointInterval = 300 * time.Second

// DefaultPollInterval is the time between medium presence checks.
const DefaultPollInterval = time.Second

// VolumeState is the processing state of one volume.
type VolumeState int

const (
	StateAwaitingMedia VolumeState = iota
	StateCopying
	StateWritingIndex
	StateWritingHashList
	StateSealing
	StateWritingSummary
	StateFinalized
)

func (s VolumeState) String() string {
	switch s {
	case StateAwaitingMedia:
		return "awaiting media"
	case StateCopying:
		return "copying"
	case StateWritingIndex:
		return "writing index"
	case StateWritingHashList:
		return "writing hash list"
	case StateSealing:
		return "sealing"
	case StateWritingSummary:
		return "writing summary"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// ProcessorOptions configures an ArchiveProcessor.
type ProcessorOptions struct {
	CheckpointInterval time.Duration
	PollInterval       time.Duration
	Digest             digest.Algorithm
	Copier             CopierOptions
	Reports            ReportSink
}

// ArchiveProcessor writes every open volume of a catalog to its device, one
// volume at a time, checkpointing the index as it goes.
type ArchiveProcessor struct {
	store   IndexStore
	device  Device
	copier  *MediaCopier
	reports *reportWriter
	logger  Logger
	clock   Clock

	checkpointInterval time.Duration
	pollInterval       time.Duration
	alg                digest.Algorithm
}

// NewArchiveProcessor creates an ArchiveProcessor.
func NewArchiveProcessor(store IndexStore, fsmgr FilesystemManager, device Device, opts ProcessorOptions, logger Logger, clock Clock) *ArchiveProcessor {
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Digest == "" {
		opts.Digest = digest.Default
	}
	return &ArchiveProcessor{
		store:              store,
		device:             device,
		copier:             NewMediaCopier(fsmgr, device, opts.Copier, logger, clock),
		reports:            &reportWriter{device: device, sink: opts.Reports, logger: logger},
		logger:             logger,
		clock:              clock,
		checkpointInterval: opts.CheckpointInterval,
		pollInterval:       opts.PollInterval,
		alg:                opts.Digest,
	}
}

// Process runs every open volume with files through the state machine, in
// number order. It stops at the first error; volumes finalized before the
// error stay finalized and later ones stay open.
func (p *ArchiveProcessor) Process(ctx context.Context, cat *Catalog, progress ProgressFunc) error {
	for _, v := range cat.OpenVolumes() {
		if len(v.Files) == 0 {
			continue
		}
		if err := p.ProcessVolume(ctx, cat, v, progress); err != nil {
			return err
		}
	}
	return nil
}

// ProcessVolume moves one volume from AwaitingMedia to Finalized.
func (p *ArchiveProcessor) ProcessVolume(ctx context.Context, cat *Catalog, v *Volume, progress ProgressFunc) error {
	if v.Finalized {
		return fmt.Errorf("%w: %s", ErrVolumeFinalized, v.Label())
	}
	if v.HashAlgorithm == "" {
		v.HashAlgorithm = string(p.alg)
	}

	for state := StateAwaitingMedia; state < StateFinalized; state++ {
		p.logger.Debug("volume state", "volume", v.Label(), "state", state.String())
		if err := p.step(ctx, cat, v, state, progress); err != nil {
			return err
		}
	}

	p.logger.Info("volume finalized", "volume", v.Label(), "files", len(v.Files), "bytes", v.CopiedBytes, "hash", v.Hash)
	progress.emit(ProgressEvent{
		Stage:      StageFinalized,
		Volume:     v.Label(),
		FilesDone:  len(v.Files),
		FilesTotal: len(v.Files),
		BytesDone:  v.CopiedBytes,
		BytesTotal: v.Committed,
	})

	if err := p.device.Eject(ctx); err != nil {
		p.logger.Warn("eject failed", "device", p.device.Name(), "error", err)
	}
	return nil
}

func (p *ArchiveProcessor) step(ctx context.Context, cat *Catalog, v *Volume, state VolumeState, progress ProgressFunc) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	switch state {
	case StateAwaitingMedia:
		if err := awaitMedium(ctx, p.device, v, PhaseArchive, p.pollInterval, progress); err != nil {
			return err
		}
		if err := p.device.Prepare(ctx, v); err != nil {
			return fmt.Errorf("preparing %s: %w", v.Label(), err)
		}
		return nil

	case StateCopying:
		return p.copyFiles(ctx, cat, v, progress)

	case StateWritingIndex:
		progress.emit(ProgressEvent{Stage: StageWritingIndex, Volume: v.Label()})
		if err := p.reports.writeIndexes(ctx, cat, v); err != nil {
			return fmt.Errorf("writing index for %s: %w", v.Label(), err)
		}
		return nil

	case StateWritingHashList:
		progress.emit(ProgressEvent{Stage: StageWritingHashList, Volume: v.Label()})
		if err := p.reports.writeHashList(ctx, v); err != nil {
			return fmt.Errorf("writing hash list for %s: %w", v.Label(), err)
		}
		return nil

	case StateSealing:
		return p.seal(ctx, v, progress)

	case StateWritingSummary:
		progress.emit(ProgressEvent{Stage: StageWritingSummary, Volume: v.Label()})
		v.Finalized = true
		v.FinalizedAt = p.clock.Now()
		if err := p.store.SaveVolume(v); err != nil {
			v.Finalized = false
			v.FinalizedAt = time.Time{}
			return fmt.Errorf("saving %s: %w", v.Label(), err)
		}
		return nil
	}
	return fmt.Errorf("unknown volume state %d", state)
}

// copyFiles copies the volume's pending files in relative-path order,
// checkpointing the index on the configured interval and after the last file.
func (p *ArchiveProcessor) copyFiles(ctx context.Context, cat *Catalog, v *Volume, progress ProgressFunc) error {
	if !p.device.Resumable() {
		p.resetVolume(v)
	}

	pending := v.PendingFiles()
	var bytesTotal, bytesDone int64
	for _, f := range pending {
		bytesTotal += f.Size
	}
	filesDone := len(v.Files) - len(pending)
	p.logger.Info("copying volume", "volume", v.Label(), "files", len(pending), "bytes", bytesTotal)

	lastCheckpoint := p.clock.Now()
	dirty := false

	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			p.checkpointAfterFailure(v, dirty)
			return cancelled(err)
		}

		base := bytesDone
		hash, err := p.copier.Copy(ctx, v, f, func(dp digest.Progress) {
			progress.emit(ProgressEvent{
				Stage:      StageCopying,
				Volume:     v.Label(),
				Path:       f.RelativePath,
				FilesDone:  filesDone,
				FilesTotal: len(v.Files),
				BytesDone:  base + dp.BytesDone,
				BytesTotal: bytesTotal,
				Rate:       dp.Rate,
			})
		})
		if err != nil {
			if errors.Is(err, ErrSourceChanged) {
				// The file is offered to allocation again on the next run with its new size.
				if relErr := v.release(f); relErr == nil {
					_ = cat.Remove(f)
					dirty = true
				}
			}
			p.checkpointAfterFailure(v, dirty)
			return cancelled(fmt.Errorf("copying %s to %s: %w", f.RelativePath, v.Label(), err))
		}

		f.Hash = hash
		f.Copied = true
		f.ArchivedAt = p.clock.Now()
		v.CopiedBytes += f.Size
		bytesDone += f.Size
		filesDone++
		dirty = true
		p.logger.Debug("file copied", "path", f.RelativePath, "volume", v.Label(), "hash", hash)

		if now := p.clock.Now(); now.Sub(lastCheckpoint) >= p.checkpointInterval {
			if err := p.checkpoint(v, progress); err != nil {
				return err
			}
			lastCheckpoint = now
			dirty = false
		}
	}

	return p.checkpoint(v, progress)
}

// resetVolume forgets copy progress of a volume whose device cannot resume,
// so it is rewritten from its first file.
func (p *ArchiveProcessor) resetVolume(v *Volume) {
	reset := 0
	for _, f := range v.Files {
		if f.Copied {
			f.Copied = false
			f.Hash = ""
			f.ArchivedAt = time.Time{}
			reset++
		}
	}
	v.CopiedBytes = 0
	if reset > 0 {
		p.logger.Warn("device cannot resume, rewriting volume from the start", "volume", v.Label(), "files", reset)
	}
}

func (p *ArchiveProcessor) checkpoint(v *Volume, progress ProgressFunc) error {
	if err := p.store.SaveVolume(v); err != nil {
		return fmt.Errorf("checkpointing %s: %w", v.Label(), err)
	}
	p.logger.Info("checkpoint saved", "volume", v.Label(), "copied", len(v.CopiedFiles()), "files", len(v.Files))
	progress.emit(ProgressEvent{
		Stage:      StageCheckpoint,
		Volume:     v.Label(),
		FilesDone:  len(v.CopiedFiles()),
		FilesTotal: len(v.Files),
		BytesDone:  v.CopiedBytes,
		BytesTotal: v.Committed,
	})
	return nil
}

// checkpointAfterFailure persists files that were copied since the last
// checkpoint. Errors are logged since the original failure is what the
// caller reports.
func (p *ArchiveProcessor) checkpointAfterFailure(v *Volume, dirty bool) {
	if !dirty {
		return
	}
	if err := p.store.SaveVolume(v); err != nil {
		p.logger.Error("checkpoint after failure", "volume", v.Label(), "error", err)
	}
}

// seal closes the volume on the device and records the digest of the sealed stream.
func (p *ArchiveProcessor) seal(ctx context.Context, v *Volume, progress ProgressFunc) error {
	progress.emit(ProgressEvent{Stage: StageSealing, Volume: v.Label()})
	err := p.device.Seal(ctx, v, func(percent int) {
		progress.emit(ProgressEvent{
			Stage:      StageSealing,
			Volume:     v.Label(),
			BytesDone:  int64(percent),
			BytesTotal: 100,
			Message:    fmt.Sprintf("%d%%", percent),
		})
	})
	if err != nil {
		return cancelled(fmt.Errorf("sealing %s: %w", v.Label(), err))
	}

	alg, err := digest.Parse(v.HashAlgorithm)
	if err != nil {
		return err
	}
	r, err := p.device.OpenSealed(ctx, v)
	if err != nil {
		return fmt.Errorf("opening sealed %s: %w", v.Label(), err)
	}
	defer r.Close()

	stream, err := digest.NewStream(alg, digest.WithClock(p.clock.Now), digest.WithProgress(digest.DefaultInterval, func(dp digest.Progress) {
		progress.emit(ProgressEvent{
			Stage:     StageSealing,
			Volume:    v.Label(),
			BytesDone: dp.BytesDone,
			Rate:      dp.Rate,
			Message:   "hashing volume",
		})
	}))
	if err != nil {
		return err
	}
	n, err := stream.Copy(ctx, nil, r, -1)
	if err != nil {
		return cancelled(fmt.Errorf("hashing sealed %s: %w", v.Label(), err))
	}

	v.Hash = stream.Sum()
	v.SealedSize = n
	p.logger.Info("volume sealed", "volume", v.Label(), "bytes", n, "hash", v.Hash, "algorithm", v.HashAlgorithm)
	return nil
}

// awaitMedium polls the device until the medium for v is present. During
// archiving a blank medium is accepted. Any other label is reported and the
// poll continues; only cancellation ends the wait without a medium.
func awaitMedium(ctx context.Context, device Device, v *Volume, phase Phase, poll time.Duration, progress ProgressFunc) error {
	if !device.NeedsMedium(phase) {
		return nil
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		label, err := device.Identify(ctx)
		var msg string
		switch {
		case errors.Is(err, ErrNoMedium):
			msg = fmt.Sprintf("insert medium %s", v.Label())
		case err != nil:
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			msg = fmt.Sprintf("drive not ready: %v", err)
		case strings.EqualFold(label, v.Label()):
			return nil
		case label == "" && phase == PhaseArchive:
			return nil
		case label == "":
			msg = fmt.Sprintf("blank medium, insert %s", v.Label())
		default:
			msg = fmt.Sprintf("need different medium: found %s, insert %s", label, v.Label())
		}

		progress.emit(ProgressEvent{Stage: StageAwaitingMedia, Volume: v.Label(), Message: msg})

		timer.Reset(poll)
		select {
		case <-ctx.Done():
			return cancelled(ctx.Err())
		case <-timer.C:
		}
	}
}
