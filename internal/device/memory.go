package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"arc-go/internal/arc"
)

// MemoryDevice keeps volumes in memory. It is useful for tests and dry runs.
//
// By default it never waits for media. With RequireMedium set, Identify
// reports whatever was last passed to Insert, and Eject removes it, so tests
// can drive the medium prompts. This implementation is safe for concurrent use.
type MemoryDevice struct {
	name string

	// RequireMedium makes both phases wait for an inserted medium.
	RequireMedium bool
	// NotResumable makes the processor rewrite unfinished volumes from the start.
	NotResumable bool
	// FailCreate, when set, is consulted before every Create.
	FailCreate func(v *arc.Volume, e arc.Entry) error

	mu      sync.Mutex
	volumes map[string]map[string][]byte // label -> path -> content
	medium  *string
	ejects  int
}

// NewMemoryDevice creates a new in-memory device with the given name.
func NewMemoryDevice(name string) *MemoryDevice {
	return &MemoryDevice{
		name:    name,
		volumes: make(map[string]map[string][]byte),
	}
}

func (d *MemoryDevice) Name() string         { return d.name }
func (d *MemoryDevice) Kind() arc.MediumKind { return arc.KindMemory }
func (d *MemoryDevice) Resumable() bool      { return !d.NotResumable }

func (d *MemoryDevice) NeedsMedium(arc.Phase) bool {
	return d.RequireMedium
}

// Insert simulates inserting a medium carrying label. An empty label is a blank medium.
func (d *MemoryDevice) Insert(label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.medium = &label
}

func (d *MemoryDevice) Identify(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.medium == nil {
		return "", arc.ErrNoMedium
	}
	return *d.medium, nil
}

// Prepare creates the volume; for an unresumable device it also discards
// anything written before.
func (d *MemoryDevice) Prepare(_ context.Context, v *arc.Volume) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.volumes[v.Label()]; !ok || d.NotResumable {
		d.volumes[v.Label()] = make(map[string][]byte)
	}
	return nil
}

func (d *MemoryDevice) Create(_ context.Context, v *arc.Volume, e arc.Entry) (io.WriteCloser, error) {
	if d.FailCreate != nil {
		if err := d.FailCreate(v, e); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.volumes[v.Label()]; !ok {
		return nil, fmt.Errorf("volume %s not prepared", v.Label())
	}
	return &memoryEntry{d: d, label: v.Label(), path: e.RelativePath, size: e.Size}, nil
}

func (d *MemoryDevice) Remove(_ context.Context, v *arc.Volume, e arc.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.volumes[v.Label()], e.RelativePath)
	return nil
}

func (d *MemoryDevice) PreserveTimes(*arc.Volume, arc.Entry) error {
	return nil
}

func (d *MemoryDevice) Seal(_ context.Context, v *arc.Volume, progress func(int)) error {
	d.mu.Lock()
	_, ok := d.volumes[v.Label()]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("volume %s not prepared", v.Label())
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

func (d *MemoryDevice) OpenSealed(ctx context.Context, v *arc.Volume) (io.ReadCloser, error) {
	return d.OpenMedium(ctx, v)
}

func (d *MemoryDevice) OpenMedium(_ context.Context, v *arc.Volume) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	files, ok := d.volumes[v.Label()]
	if !ok {
		return nil, fmt.Errorf("volume not found: %s", v.Label())
	}
	entries := make([]streamEntry, 0, len(files))
	for p, data := range files {
		entries = append(entries, streamEntry{
			path: p,
			size: int64(len(data)),
			open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
		})
	}
	return newVolumeStream(entries), nil
}

// Eject removes the current medium.
func (d *MemoryDevice) Eject(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.medium = nil
	d.ejects++
	return nil
}

// Ejects returns how many times Eject was called.
func (d *MemoryDevice) Ejects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ejects
}

// File returns a copy of a file written to a volume.
func (d *MemoryDevice) File(label, path string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.volumes[label][path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Paths returns the number of files written to a volume.
func (d *MemoryDevice) Paths(label string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.volumes[label])
}

// Corrupt flips the first byte of a written file to simulate media decay.
func (d *MemoryDevice) Corrupt(label, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.volumes[label][path]
	if !ok || len(data) == 0 {
		return fmt.Errorf("no content at %s/%s", label, path)
	}
	data[0] ^= 0xff
	return nil
}

// memoryEntry buffers one file until Close.
type memoryEntry struct {
	d     *MemoryDevice
	label string
	path  string
	size  int64
	buf   bytes.Buffer
}

func (e *memoryEntry) Write(p []byte) (int, error) {
	return e.buf.Write(p)
}

func (e *memoryEntry) Close() error {
	if e.size >= 0 && int64(e.buf.Len()) != e.size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", e.size, e.buf.Len())
	}
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	e.d.volumes[e.label][e.path] = e.buf.Bytes()
	return nil
}

// Compile-time check that MemoryDevice implements arc.Device interface
var _ arc.Device = (*MemoryDevice)(nil)
