package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"arc-go/internal/arc"
	"arc-go/internal/fs"
)

// LabelFileName marks a cold-storage disk with the label of the volume it holds.
const LabelFileName = ".arc-volume"

// HDDDevice writes one volume per removable disk mounted at a fixed mount
// point. The disk carries its volume label in LabelFileName at its root and
// the volume's files under <mount>/<label>/.
type HDDDevice struct {
	name         string
	mountPoint   string
	ejectCommand string
}

// NewHDDDevice creates a cold-storage disk device.
func NewHDDDevice(name, mountPoint, ejectCommand string) *HDDDevice {
	return &HDDDevice{name: name, mountPoint: mountPoint, ejectCommand: ejectCommand}
}

func (d *HDDDevice) tree(v *arc.Volume) volumeTree {
	return volumeTree{root: filepath.Join(d.mountPoint, v.Label())}
}

func (d *HDDDevice) Name() string              { return d.name }
func (d *HDDDevice) Kind() arc.MediumKind      { return arc.KindHDD }
func (d *HDDDevice) NeedsMedium(arc.Phase) bool { return true }
func (d *HDDDevice) Resumable() bool           { return true }

// Identify reads the label file of the mounted disk. A missing mount point is
// no medium; a mounted disk without a label file is blank.
func (d *HDDDevice) Identify(context.Context) (string, error) {
	info, err := os.Stat(d.mountPoint)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return "", arc.ErrNoMedium
		}
		return "", fmt.Errorf("checking mount point: %w", err)
	}
	if !info.IsDir() {
		return "", arc.ErrNoMedium
	}

	data, err := os.ReadFile(filepath.Join(d.mountPoint, LabelFileName))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading disk label: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Prepare labels a blank disk and creates the volume directory.
func (d *HDDDevice) Prepare(ctx context.Context, v *arc.Volume) error {
	label, err := d.Identify(ctx)
	if err != nil {
		return err
	}
	if label == "" {
		data := []byte(v.Label() + "\n")
		if err := fs.WriteFileAtomic(filepath.Join(d.mountPoint, LabelFileName), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("labelling disk: %w", err)
		}
	} else if !strings.EqualFold(label, v.Label()) {
		return fmt.Errorf("disk is labelled %s, not %s", label, v.Label())
	}
	return d.tree(v).prepare()
}

func (d *HDDDevice) Create(_ context.Context, v *arc.Volume, e arc.Entry) (io.WriteCloser, error) {
	return d.tree(v).create(e)
}

func (d *HDDDevice) Remove(_ context.Context, v *arc.Volume, e arc.Entry) error {
	return d.tree(v).remove(e)
}

func (d *HDDDevice) PreserveTimes(v *arc.Volume, e arc.Entry) error {
	return d.tree(v).preserveTimes(e)
}

func (d *HDDDevice) Seal(_ context.Context, _ *arc.Volume, progress func(int)) error {
	if progress != nil {
		progress(100)
	}
	return nil
}

func (d *HDDDevice) OpenSealed(_ context.Context, v *arc.Volume) (io.ReadCloser, error) {
	return d.tree(v).stream()
}

func (d *HDDDevice) OpenMedium(_ context.Context, v *arc.Volume) (io.ReadCloser, error) {
	return d.tree(v).stream()
}

func (d *HDDDevice) Eject(ctx context.Context) error {
	return runEject(ctx, d.ejectCommand)
}

// Compile-time check that HDDDevice implements arc.Device interface
var _ arc.Device = (*HDDDevice)(nil)
