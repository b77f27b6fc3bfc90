package arc

import (
	"context"
	"fmt"
	"io"
	"time"

	"arc-go/internal/digest"
)

// MediaCopier streams one source file onto a volume while computing its
// digest in the same pass.
type MediaCopier struct {
	fsmgr         FilesystemManager
	device        Device
	logger        Logger
	clock         Clock
	bufferSize    int
	interval      time.Duration
	preserveTimes bool
}

// CopierOptions configures a MediaCopier.
type CopierOptions struct {
	BufferSize       int           // chunk size, default digest.DefaultBufferSize
	ProgressInterval time.Duration // default digest.DefaultInterval
	PreserveTimes    bool
}

// NewMediaCopier creates a MediaCopier writing through device.
func NewMediaCopier(fsmgr FilesystemManager, device Device, opts CopierOptions, logger Logger, clock Clock) *MediaCopier {
	if opts.BufferSize <= 0 {
		opts.BufferSize = digest.DefaultBufferSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = digest.DefaultInterval
	}
	return &MediaCopier{
		fsmgr:         fsmgr,
		device:        device,
		logger:        logger,
		clock:         clock,
		bufferSize:    opts.BufferSize,
		interval:      opts.ProgressInterval,
		preserveTimes: opts.PreserveTimes,
	}
}

// Copy writes f to v and returns the hex digest of its content, computed
// with the volume's hash algorithm. The progress callback fires on the
// sampling interval and always once for the final chunk.
//
// A source that cannot be opened, or whose length differs from the size
// recorded at scan time, is an error. Failing to preserve timestamps is not.
func (c *MediaCopier) Copy(ctx context.Context, v *Volume, f *SourceFile, progress digest.ProgressFunc) (string, error) {
	alg, err := digest.Parse(v.HashAlgorithm)
	if err != nil {
		return "", err
	}

	src, err := c.fsmgr.Open(f.FullPath())
	if err != nil {
		return "", fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	entry := Entry{RelativePath: f.RelativePath, Size: f.Size, Times: f.Times}
	dst, err := c.device.Create(ctx, v, entry)
	if err != nil {
		return "", fmt.Errorf("creating %s on %s: %w", f.RelativePath, v.Label(), err)
	}

	stream, err := digest.NewStream(alg,
		digest.WithBufferSize(c.bufferSize),
		digest.WithProgress(c.interval, progress),
		digest.WithClock(c.clock.Now),
	)
	if err != nil {
		dst.Close()
		return "", err
	}

	// The device never sees more than the announced size; a grown source is
	// detected by reading one more byte.
	n, err := stream.Copy(ctx, dst, io.LimitReader(src, f.Size), f.Size)
	if err != nil {
		dst.Close()
		return "", err
	}
	if n == f.Size {
		var extra [1]byte
		if m, _ := io.ReadFull(src, extra[:]); m > 0 {
			n += int64(m)
		}
	}
	if n != f.Size {
		dst.Close()
		// The volume may never list this file again, so no partial copy may remain.
		if err := c.device.Remove(ctx, v, entry); err != nil {
			c.logger.Warn("could not remove partial copy", "path", f.RelativePath, "volume", v.Label(), "error", err)
		}
		return "", fmt.Errorf("%w: %s was %d bytes at scan time, now at least %d", ErrSourceChanged, f.RelativePath, f.Size, n)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing %s on %s: %w", f.RelativePath, v.Label(), err)
	}

	if c.preserveTimes {
		if err := c.device.PreserveTimes(v, entry); err != nil {
			c.logger.Warn("could not preserve timestamps", "path", f.RelativePath, "error", err)
		}
	}

	return stream.Sum(), nil
}
