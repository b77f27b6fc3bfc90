package arc

import (
	"context"
	"io"
)

// Phase is the part of the pipeline that wants to use a device.
type Phase int

const (
	PhaseArchive Phase = iota
	PhaseVerify
)

// Entry describes one file being written to a volume.
type Entry struct {
	RelativePath string
	Size         int64
	Times        FileTimes
}

// Device is the media capability a volume is written through: a directory,
// a removable disk, an optical drive, a tape drive or a bucket. One Device
// serves every volume of a media set, one volume at a time.
type Device interface {
	// Name returns the configured name of the device.
	Name() string

	// Kind returns the medium kind recorded on volumes written through it.
	Kind() MediumKind

	// NeedsMedium reports whether the phase must wait for a medium to be
	// inserted or attached before it can proceed.
	NeedsMedium(phase Phase) bool

	// Resumable reports whether files already written to an unfinished
	// volume survive an interrupted run. When false, an unfinished volume is
	// rewritten from its first file.
	Resumable() bool

	// Identify returns the label of the medium currently present. A blank
	// medium returns "". ErrNoMedium means nothing is present or the drive
	// is not ready.
	Identify(ctx context.Context) (string, error)

	// Prepare readies the medium for writing the given volume. It is called
	// once per processing pass, before the first Create.
	Prepare(ctx context.Context, v *Volume) error

	// Create opens a writer for one file of the volume. The file is complete
	// when the writer is closed without error.
	Create(ctx context.Context, v *Volume, e Entry) (io.WriteCloser, error)

	// Remove deletes a file written by Create. A missing file is not an error.
	Remove(ctx context.Context, v *Volume, e Entry) error

	// PreserveTimes applies source timestamps to a written file and its
	// ancestor directories. Devices without timestamps return nil.
	PreserveTimes(v *Volume, e Entry) error

	// Seal closes the volume for writing (flush, close the archive, author
	// the disc image).
	Seal(ctx context.Context, v *Volume, progress func(percent int)) error

	// OpenSealed opens the sealed volume stream as it was just written,
	// for computing the whole-volume digest.
	OpenSealed(ctx context.Context, v *Volume) (io.ReadCloser, error)

	// OpenMedium opens the volume stream as read back from the medium
	// currently present, for verification.
	OpenMedium(ctx context.Context, v *Volume) (io.ReadCloser, error)

	// Eject releases the medium. Failures are not fatal.
	Eject(ctx context.Context) error
}
