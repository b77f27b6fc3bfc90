package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"arc-go/internal/arc"
)

// ISO 9660 primary volume descriptor location and volume identifier field.
const (
	isoSectorSize      = 2048
	isoDescriptorStart = 16 * isoSectorSize
	isoLabelStart      = 40
	isoLabelEnd        = 72
)

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// OpticalDevice stages a volume's files on disk, authors a disc image from
// them with an external ISO tool when sealing, and verifies by reading the
// burned disc back from the drive:
//
//	<staging>/
//	  <label>/      (staged files)
//	  <label>.iso   (authored image)
type OpticalDevice struct {
	name         string
	stagingDir   string
	isoTool      string
	drive        string
	ejectCommand string
}

// NewOpticalDevice creates an optical device.
func NewOpticalDevice(name, stagingDir, isoTool, drive, ejectCommand string) (*OpticalDevice, error) {
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &OpticalDevice{
		name:         name,
		stagingDir:   stagingDir,
		isoTool:      isoTool,
		drive:        drive,
		ejectCommand: ejectCommand,
	}, nil
}

func (d *OpticalDevice) tree(v *arc.Volume) volumeTree {
	return volumeTree{root: filepath.Join(d.stagingDir, v.Label())}
}

func (d *OpticalDevice) imagePath(v *arc.Volume) string {
	return filepath.Join(d.stagingDir, v.Label()+".iso")
}

func (d *OpticalDevice) Name() string         { return d.name }
func (d *OpticalDevice) Kind() arc.MediumKind { return arc.KindOptical }
func (d *OpticalDevice) Resumable() bool      { return true }

// NeedsMedium is true only for verification; archiving writes to the staging directory.
func (d *OpticalDevice) NeedsMedium(phase arc.Phase) bool {
	return phase == arc.PhaseVerify
}

// Identify reads the volume identifier of the disc in the drive. An
// unreadable drive is no medium; a disc without an ISO 9660 descriptor is blank.
func (d *OpticalDevice) Identify(context.Context) (string, error) {
	f, err := os.Open(d.drive)
	if err != nil {
		return "", fmt.Errorf("%w: %v", arc.ErrNoMedium, err)
	}
	defer f.Close()

	sector := make([]byte, isoSectorSize)
	if _, err := f.ReadAt(sector, isoDescriptorStart); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", arc.ErrNoMedium, err)
	}
	return isoLabel(sector), nil
}

// isoLabel extracts the volume identifier from a primary volume descriptor,
// or "" when the sector is not one.
func isoLabel(sector []byte) string {
	if len(sector) < isoLabelEnd || sector[0] != 1 || string(sector[1:6]) != "CD001" {
		return ""
	}
	return strings.TrimRight(string(sector[isoLabelStart:isoLabelEnd]), " \x00")
}

func (d *OpticalDevice) Prepare(_ context.Context, v *arc.Volume) error {
	return d.tree(v).prepare()
}

func (d *OpticalDevice) Create(_ context.Context, v *arc.Volume, e arc.Entry) (io.WriteCloser, error) {
	return d.tree(v).create(e)
}

func (d *OpticalDevice) Remove(_ context.Context, v *arc.Volume, e arc.Entry) error {
	return d.tree(v).remove(e)
}

func (d *OpticalDevice) PreserveTimes(v *arc.Volume, e arc.Entry) error {
	return d.tree(v).preserveTimes(e)
}

// Seal authors the disc image from the staged files, reporting the tool's
// percentage lines as progress.
func (d *OpticalDevice) Seal(ctx context.Context, v *arc.Volume, progress func(int)) error {
	if d.isoTool == "" {
		return fmt.Errorf("no iso_tool configured for %s", d.name)
	}
	src := d.tree(v).root
	dest := d.imagePath(v)
	if err := os.Remove(dest); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("removing old image: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.isoTool,
		"--burn-data",
		fmt.Sprintf("-folder[\\]:%s", src),
		fmt.Sprintf("-name:%s", v.Label()),
		"-udf:2.5",
		fmt.Sprintf("-iso:%s", dest),
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("iso tool stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting iso tool: %w", err)
	}
	scanPercent(stdout, progress)
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("iso tool failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("iso tool produced no image: %w", err)
	}
	return nil
}

// scanPercent reports every "NN%" found in r, one line at a time.
func scanPercent(r io.Reader, progress func(int)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := percentPattern.FindStringSubmatch(sc.Text())
		if m == nil || progress == nil {
			continue
		}
		if p, err := strconv.Atoi(m[1]); err == nil && p <= 100 {
			progress(p)
		}
	}
	// Drain so the tool never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func (d *OpticalDevice) OpenSealed(_ context.Context, v *arc.Volume) (io.ReadCloser, error) {
	f, err := os.Open(d.imagePath(v))
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	return f, nil
}

// OpenMedium reads the raw disc. The caller limits the read to the sealed size.
func (d *OpticalDevice) OpenMedium(context.Context, *arc.Volume) (io.ReadCloser, error) {
	f, err := os.Open(d.drive)
	if err != nil {
		return nil, fmt.Errorf("opening drive: %w", err)
	}
	return f, nil
}

func (d *OpticalDevice) Eject(ctx context.Context) error {
	return runEject(ctx, d.ejectCommand)
}

// Compile-time check that OpticalDevice implements arc.Device interface
var _ arc.Device = (*OpticalDevice)(nil)
