package arc

import (
	"context"
	"errors"
)

var (
	// ErrCancelled is returned when the operator cancels a run. It is an
	// outcome, not a failure: finalized volumes are untouched and unfinished
	// ones can be resumed.
	ErrCancelled = errors.New("cancelled")

	// ErrNoMedium is returned by Device.Identify when no medium is present or
	// the drive is not ready.
	ErrNoMedium = errors.New("no medium present")

	// ErrSourceRootMissing is returned when a configured source root does not exist.
	ErrSourceRootMissing = errors.New("source root does not exist")

	// ErrFileTooLarge is returned when a file can never fit on an empty volume.
	ErrFileTooLarge = errors.New("file larger than volume capacity")

	// ErrVolumeFinalized is returned when a finalized volume would be changed.
	ErrVolumeFinalized = errors.New("volume is finalized")

	// ErrInvalidCapacity is returned for a capacity that leaves no usable space.
	ErrInvalidCapacity = errors.New("invalid volume capacity")

	// ErrSourceChanged is returned when a source file's length differs from
	// the size recorded for it at scan time.
	ErrSourceChanged = errors.New("source file changed")
)

// cancelled converts a context error into ErrCancelled, leaving other errors as they are.
func cancelled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrCancelled, err)
	}
	return err
}
