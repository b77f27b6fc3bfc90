package arc_test

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/device"
	"arc-go/internal/testutil"
)

const testRoot = "/src/photos"

// fixture wires a service to in-memory collaborators.
type fixture struct {
	fsmgr *testutil.MockFilesystemManager
	store arc.IndexStore
	dev   *device.MemoryDevice
	clock *testutil.StubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		fsmgr: testutil.NewMockFilesystemManager(),
		store: testutil.NewTestStore(t),
		dev:   testutil.NewTestDevice(),
		clock: testutil.FixedClock(),
	}
}

func (fx *fixture) service(capacity int64, opts arc.Options) *arc.ArcService {
	if opts.Sources == nil {
		opts.Sources = []string{testRoot}
	}
	return arc.NewArcService(fx.store, fx.fsmgr, arc.MediaSet{
		Name:     "disc",
		Capacity: capacity,
		Device:   fx.dev,
	}, opts, arc.NewNopLogger(), fx.clock)
}

// addFile adds a file of n bytes below testRoot.
func (fx *fixture) addFile(rel string, n int) []byte {
	content := fill(rel, n)
	fx.fsmgr.AddFile(path.Join(testRoot, rel), content)
	return content
}

// fill returns n bytes derived from name.
func fill(name string, n int) []byte {
	if n == 0 {
		return []byte{}
	}
	return bytes.Repeat([]byte(name), n/len(name)+1)[:n]
}

func (fx *fixture) plan(t *testing.T, svc *arc.ArcService) *arc.Plan {
	t.Helper()
	plan, err := svc.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	return plan
}

func (fx *fixture) archive(t *testing.T, svc *arc.ArcService) *arc.Plan {
	t.Helper()
	plan := fx.plan(t, svc)
	if err := svc.Archive(context.Background(), plan, nil); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	return plan
}

func (fx *fixture) volumes(t *testing.T) []*arc.Volume {
	t.Helper()
	volumes, err := fx.store.LoadVolumes("disc")
	if err != nil {
		t.Fatalf("LoadVolumes() error = %v", err)
	}
	return volumes
}

// createLog records the source files the device was asked to create, and
// optionally fails one of them.
type createLog struct {
	mu     sync.Mutex
	paths  []string
	failOn string
}

func (c *createLog) hook(_ *arc.Volume, e arc.Entry) error {
	if strings.HasPrefix(e.RelativePath, arc.VolumeReportDir+"/") {
		return nil
	}
	if e.RelativePath == c.failOn {
		return errInjected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, e.RelativePath)
	return nil
}

func (c *createLog) created() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

var errInjected = errors.New("injected write failure")

func filePaths(files []*arc.SourceFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelativePath
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
