package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"arc-go/internal/arc"
)

// DirectoryDevice writes every volume into its own directory below a fixed
// path on an always-attached disk:
//
//	<root>/
//	  <label>/
//	    <relative paths...>
//	    _arc/INDEX.txt ...
type DirectoryDevice struct {
	name         string
	root         string
	ejectCommand string
}

// NewDirectoryDevice creates a directory device rooted at root.
func NewDirectoryDevice(name, root, ejectCommand string) (*DirectoryDevice, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volume root: %w", err)
	}
	return &DirectoryDevice{name: name, root: root, ejectCommand: ejectCommand}, nil
}

func (d *DirectoryDevice) tree(v *arc.Volume) volumeTree {
	return volumeTree{root: filepath.Join(d.root, v.Label())}
}

func (d *DirectoryDevice) Name() string              { return d.name }
func (d *DirectoryDevice) Kind() arc.MediumKind      { return arc.KindDirectory }
func (d *DirectoryDevice) NeedsMedium(arc.Phase) bool { return false }
func (d *DirectoryDevice) Resumable() bool           { return true }

// Identify always reports a blank medium; a directory never waits.
func (d *DirectoryDevice) Identify(context.Context) (string, error) {
	return "", nil
}

func (d *DirectoryDevice) Prepare(_ context.Context, v *arc.Volume) error {
	return d.tree(v).prepare()
}

func (d *DirectoryDevice) Create(_ context.Context, v *arc.Volume, e arc.Entry) (io.WriteCloser, error) {
	return d.tree(v).create(e)
}

func (d *DirectoryDevice) Remove(_ context.Context, v *arc.Volume, e arc.Entry) error {
	return d.tree(v).remove(e)
}

func (d *DirectoryDevice) PreserveTimes(v *arc.Volume, e arc.Entry) error {
	return d.tree(v).preserveTimes(e)
}

// Seal has nothing to close; files are complete once written.
func (d *DirectoryDevice) Seal(_ context.Context, _ *arc.Volume, progress func(int)) error {
	if progress != nil {
		progress(100)
	}
	return nil
}

func (d *DirectoryDevice) OpenSealed(_ context.Context, v *arc.Volume) (io.ReadCloser, error) {
	return d.tree(v).stream()
}

func (d *DirectoryDevice) OpenMedium(_ context.Context, v *arc.Volume) (io.ReadCloser, error) {
	return d.tree(v).stream()
}

func (d *DirectoryDevice) Eject(ctx context.Context) error {
	return runEject(ctx, d.ejectCommand)
}

// Compile-time check that DirectoryDevice implements arc.Device interface
var _ arc.Device = (*DirectoryDevice)(nil)
