package device

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"strings"
	"sync"

	"arc-go/internal/arc"
)

// TapeLabelEntry is the first entry of every tape; its content is the volume label.
const TapeLabelEntry = "ARC-VOLUME"

// TapeDevice writes each volume as one tar stream to a tape device (or any
// file standing in for one). A tape cannot be appended to after an
// interruption, so an unfinished volume is rewritten from its first file.
type TapeDevice struct {
	name         string
	path         string
	ejectCommand string

	mu sync.Mutex
	f  *os.File
	tw *tar.Writer
}

// NewTapeDevice creates a tape device writing to path.
func NewTapeDevice(name, path, ejectCommand string) *TapeDevice {
	return &TapeDevice{name: name, path: path, ejectCommand: ejectCommand}
}

func (d *TapeDevice) Name() string              { return d.name }
func (d *TapeDevice) Kind() arc.MediumKind      { return arc.KindTape }
func (d *TapeDevice) NeedsMedium(arc.Phase) bool { return true }
func (d *TapeDevice) Resumable() bool           { return false }

// Identify reads the label entry at the start of the tape. A missing device
// is no medium; a tape that does not start with a label entry is blank.
func (d *TapeDevice) Identify(context.Context) (string, error) {
	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return "", arc.ErrNoMedium
		}
		return "", fmt.Errorf("%w: %v", arc.ErrNoMedium, err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	hdr, err := tr.Next()
	if err != nil || hdr.Name != TapeLabelEntry {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(tr, 256))
	if err != nil {
		return "", fmt.Errorf("reading tape label: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Prepare rewinds the tape and writes the label entry.
func (d *TapeDevice) Prepare(_ context.Context, v *arc.Volume) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeLocked()
	f, err := os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening tape: %w", err)
	}
	tw := tar.NewWriter(f)

	label := []byte(v.Label() + "\n")
	hdr := &tar.Header{
		Name:     TapeLabelEntry,
		Mode:     0644,
		Size:     int64(len(label)),
		ModTime:  v.CreatedAt,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		f.Close()
		return fmt.Errorf("writing tape label: %w", err)
	}
	if _, err := tw.Write(label); err != nil {
		f.Close()
		return fmt.Errorf("writing tape label: %w", err)
	}

	d.f = f
	d.tw = tw
	return nil
}

// Create appends a tar entry. The entry is complete once the returned writer
// is closed; tar enforces the announced size.
func (d *TapeDevice) Create(_ context.Context, v *arc.Volume, e arc.Entry) (io.WriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tw == nil {
		return nil, fmt.Errorf("tape not prepared for %s", v.Label())
	}
	hdr := &tar.Header{
		Name:       e.RelativePath,
		Mode:       0644,
		Size:       e.Size,
		ModTime:    e.Times.Modified,
		AccessTime: e.Times.Accessed,
		Typeflag:   tar.TypeReg,
		Format:     tar.FormatPAX,
	}
	if err := d.tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("writing tar header: %w", err)
	}
	return &tapeEntry{tw: d.tw}, nil
}

// Remove is a no-op. A tape is rewritten from the label on the next Prepare,
// which drops every entry of an unfinished volume.
func (d *TapeDevice) Remove(context.Context, *arc.Volume, arc.Entry) error {
	return nil
}

// PreserveTimes is a no-op; times are recorded in the tar header.
func (d *TapeDevice) PreserveTimes(*arc.Volume, arc.Entry) error {
	return nil
}

// Seal writes the tar trailer and closes the tape.
func (d *TapeDevice) Seal(_ context.Context, v *arc.Volume, progress func(int)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tw == nil {
		return fmt.Errorf("tape not prepared for %s", v.Label())
	}
	err := d.tw.Close()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	d.tw, d.f = nil, nil
	if err != nil {
		return fmt.Errorf("closing tape: %w", err)
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

func (d *TapeDevice) OpenSealed(ctx context.Context, v *arc.Volume) (io.ReadCloser, error) {
	return d.OpenMedium(ctx, v)
}

func (d *TapeDevice) OpenMedium(context.Context, *arc.Volume) (io.ReadCloser, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("opening tape: %w", err)
	}
	return f, nil
}

// Eject abandons any open stream and runs the eject command.
func (d *TapeDevice) Eject(ctx context.Context) error {
	d.mu.Lock()
	d.closeLocked()
	d.mu.Unlock()
	return runEject(ctx, d.ejectCommand)
}

func (d *TapeDevice) closeLocked() {
	if d.f != nil {
		d.f.Close()
	}
	d.f, d.tw = nil, nil
}

// tapeEntry writes one entry's content. Close flushes the entry padding,
// which fails when fewer bytes than announced were written.
type tapeEntry struct {
	tw *tar.Writer
}

func (e *tapeEntry) Write(p []byte) (int, error) {
	return e.tw.Write(p)
}

func (e *tapeEntry) Close() error {
	return e.tw.Flush()
}

// Compile-time check that TapeDevice implements arc.Device interface
var _ arc.Device = (*TapeDevice)(nil)
