package arc_test

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arc-go/internal/arc"
	"arc-go/internal/device"
	"arc-go/internal/testutil"
)

func TestArchive_WritesVolumesAndFinalizes(t *testing.T) {
	fx := newFixture(t)
	contents := map[string][]byte{}
	for rel, n := range map[string]int{"a.jpg": 80, "b.jpg": 50, "c/d.jpg": 50, "e.jpg": 30} {
		contents["photos/"+rel] = fx.addFile(rel, n)
	}
	svc := fx.service(100, arc.Options{})

	var finalized []string
	plan := fx.plan(t, svc)
	if plan.NewVolumes != 3 || plan.PendingFiles != 4 || plan.PendingBytes != 210 {
		t.Fatalf("plan = %+v, want 3 new volumes with 4 files and 210 bytes", plan)
	}
	err := svc.Archive(context.Background(), plan, func(e arc.ProgressEvent) {
		if e.Stage == arc.StageFinalized {
			finalized = append(finalized, e.Volume)
		}
	})
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if !equalStrings(finalized, []string{"disc-0001", "disc-0002", "disc-0003"}) {
		t.Errorf("finalized = %v", finalized)
	}

	volumes := fx.volumes(t)
	if len(volumes) != 3 {
		t.Fatalf("stored %d volumes, want 3", len(volumes))
	}
	for _, v := range volumes {
		if !v.Finalized || v.FinalizedAt.IsZero() || v.Hash == "" || v.SealedSize == 0 {
			t.Errorf("%s not finalized: %+v", v.Label(), v)
		}
		if v.CopiedBytes != v.Committed {
			t.Errorf("%s copied %d of %d bytes", v.Label(), v.CopiedBytes, v.Committed)
		}
		for _, f := range v.Files {
			if !f.Copied || f.Hash == "" || f.ArchivedAt.IsZero() {
				t.Errorf("%s not copied: %+v", f.RelativePath, f)
			}
			got, ok := fx.dev.File(v.Label(), f.RelativePath)
			if !ok || string(got) != string(contents[f.RelativePath]) {
				t.Errorf("%s on %s has wrong content", f.RelativePath, v.Label())
			}
		}
		for _, name := range []string{arc.IndexFileName, arc.MasterIndexFileName, arc.HashListFileName} {
			if _, ok := fx.dev.File(v.Label(), arc.VolumeReportDir+"/"+name); !ok {
				t.Errorf("%s missing %s", v.Label(), name)
			}
		}
	}
	if fx.dev.Ejects() != 3 {
		t.Errorf("Ejects() = %d, want 3", fx.dev.Ejects())
	}
}

func TestArchive_ResumesFromCheckpoint(t *testing.T) {
	fx := newFixture(t)
	for _, rel := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		fx.addFile(rel, 10)
	}
	log := &createLog{failOn: "photos/c.jpg"}
	fx.dev.FailCreate = log.hook
	svc := fx.service(1000, arc.Options{})

	plan := fx.plan(t, svc)
	if err := svc.Archive(context.Background(), plan, nil); !errors.Is(err, errInjected) {
		t.Fatalf("Archive() error = %v, want injected failure", err)
	}

	volumes := fx.volumes(t)
	if len(volumes) != 1 || volumes[0].Finalized {
		t.Fatalf("stored volumes = %+v, want one open volume", volumes)
	}
	if got := filePaths(volumes[0].CopiedFiles()); !equalStrings(got, []string{"photos/a.jpg", "photos/b.jpg"}) {
		t.Errorf("copied after failure = %v, want a and b", got)
	}

	resumed := &createLog{}
	fx.dev.FailCreate = resumed.hook
	plan = fx.plan(t, svc)
	if plan.NewVolumes != 0 || plan.PendingFiles != 2 {
		t.Errorf("resume plan = %+v, want 2 pending files on the existing volume", plan)
	}
	if err := svc.Archive(context.Background(), plan, nil); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if got := resumed.created(); !equalStrings(got, []string{"photos/c.jpg", "photos/d.jpg"}) {
		t.Errorf("resumed run wrote %v, want only c and d", got)
	}
	if v := fx.volumes(t)[0]; !v.Finalized || len(v.CopiedFiles()) != 4 {
		t.Errorf("volume after resume = %+v, want finalized with 4 files", v)
	}
}

func TestArchive_NonResumableDeviceRewritesVolume(t *testing.T) {
	fx := newFixture(t)
	for _, rel := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		fx.addFile(rel, 10)
	}
	fx.dev.NotResumable = true
	fx.dev.FailCreate = (&createLog{failOn: "photos/c.jpg"}).hook
	svc := fx.service(1000, arc.Options{})

	plan := fx.plan(t, svc)
	if err := svc.Archive(context.Background(), plan, nil); !errors.Is(err, errInjected) {
		t.Fatalf("Archive() error = %v, want injected failure", err)
	}

	rewrite := &createLog{}
	fx.dev.FailCreate = rewrite.hook
	plan = fx.plan(t, svc)
	if err := svc.Archive(context.Background(), plan, nil); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if got := rewrite.created(); !equalStrings(got, []string{"photos/a.jpg", "photos/b.jpg", "photos/c.jpg"}) {
		t.Errorf("second run wrote %v, want every file", got)
	}
	v := fx.volumes(t)[0]
	if !v.Finalized || v.CopiedBytes != 30 {
		t.Errorf("volume = %+v, want finalized with 30 bytes", v)
	}
}

func TestArchive_CheckpointsOnInterval(t *testing.T) {
	fx := newFixture(t)
	for _, rel := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		fx.addFile(rel, 10)
	}
	svc := arc.NewArcService(fx.store, fx.fsmgr, arc.MediaSet{Name: "disc", Capacity: 1000, Device: fx.dev},
		arc.Options{Sources: []string{testRoot}, CheckpointInterval: time.Minute},
		arc.NewNopLogger(), testutil.NewTickingClock(testutil.FixedClock().Now(), 30*time.Second))

	checkpoints := 0
	plan, err := svc.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	err = svc.Archive(context.Background(), plan, func(e arc.ProgressEvent) {
		if e.Stage == arc.StageCheckpoint {
			checkpoints++
		}
	})
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	// At least one interval checkpoint plus the one after the last file.
	if checkpoints < 2 {
		t.Errorf("checkpoints = %d, want at least 2", checkpoints)
	}
}

func TestArchive_SourceChangedReleasesFile(t *testing.T) {
	fx := newFixture(t)
	fx.addFile("a.jpg", 10)
	fx.addFile("b.jpg", 10)
	svc := fx.service(1000, arc.Options{})

	plan := fx.plan(t, svc)
	fx.addFile("b.jpg", 25)
	if err := svc.Archive(context.Background(), plan, nil); !errors.Is(err, arc.ErrSourceChanged) {
		t.Fatalf("Archive() error = %v, want ErrSourceChanged", err)
	}

	v := fx.volumes(t)[0]
	if got := filePaths(v.Files); !equalStrings(got, []string{"photos/a.jpg"}) {
		t.Errorf("volume files after change = %v, want only a", got)
	}
	if v.Committed != 10 {
		t.Errorf("Committed = %d, want 10", v.Committed)
	}

	// The next run sizes the file again and archives it.
	plan = fx.plan(t, svc)
	if plan.PendingFiles != 1 || plan.PendingBytes != 25 {
		t.Errorf("plan = %+v, want b pending with 25 bytes", plan)
	}
	if err := svc.Archive(context.Background(), plan, nil); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
}

func TestArchive_GrownSourceLeavesNoCopyBehind(t *testing.T) {
	fx := newFixture(t)
	root := t.TempDir()
	dev, err := device.NewDirectoryDevice("disc", root, "")
	if err != nil {
		t.Fatal(err)
	}
	svc := arc.NewArcService(fx.store, fx.fsmgr, arc.MediaSet{Name: "disc", Capacity: 100, Device: dev},
		arc.Options{Sources: []string{testRoot}}, arc.NewNopLogger(), fx.clock)

	fx.addFile("a.jpg", 60)
	fx.addFile("b.jpg", 30)
	plan := fx.plan(t, svc)
	fx.addFile("b.jpg", 50)
	if err := svc.Archive(context.Background(), plan, nil); !errors.Is(err, arc.ErrSourceChanged) {
		t.Fatalf("Archive() error = %v, want ErrSourceChanged", err)
	}
	stale := filepath.Join(root, "disc-0001", "photos", "b.jpg")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("truncated copy of b.jpg left in disc-0001: %v", err)
	}

	// b no longer fits next to a and moves to a second volume.
	fx.archive(t, svc)
	volumes := fx.volumes(t)
	if len(volumes) != 2 {
		t.Fatalf("volumes = %d, want 2", len(volumes))
	}
	if got := filePaths(volumes[0].Files); !equalStrings(got, []string{"photos/a.jpg"}) {
		t.Errorf("disc-0001 files = %v, want only a", got)
	}
	if got := filePaths(volumes[1].Files); !equalStrings(got, []string{"photos/b.jpg"}) {
		t.Errorf("disc-0002 files = %v, want only b", got)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("disc-0001 holds an unindexed photos/b.jpg: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "disc-0002", "photos", "b.jpg"))
	if err != nil {
		t.Fatalf("b.jpg on disc-0002: %v", err)
	}
	if info.Size() != 50 {
		t.Errorf("b.jpg size = %d, want 50", info.Size())
	}
}

func TestArchive_WaitsForMedium(t *testing.T) {
	fx := newFixture(t)
	fx.dev = testutil.NewRemovableTestDevice()
	fx.addFile("a.jpg", 10)
	svc := arc.NewArcService(fx.store, fx.fsmgr, arc.MediaSet{Name: "disc", Capacity: 1000, Device: fx.dev},
		arc.Options{Sources: []string{testRoot}, PollInterval: time.Millisecond},
		arc.NewNopLogger(), fx.clock)

	var messages []string
	plan := fx.plan(t, svc)
	err := svc.Archive(context.Background(), plan, func(e arc.ProgressEvent) {
		if e.Stage != arc.StageAwaitingMedia {
			return
		}
		messages = append(messages, e.Message)
		if len(messages) == 1 {
			fx.dev.Insert("old-0007")
		} else {
			fx.dev.Insert("")
		}
	})
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	want := []string{"insert medium disc-0001", "need different medium: found old-0007, insert disc-0001"}
	if !equalStrings(messages, want) {
		t.Errorf("messages = %q, want %q", messages, want)
	}
	if !fx.volumes(t)[0].Finalized {
		t.Error("volume not finalized")
	}
}

func TestArchive_CancelWhileWaiting(t *testing.T) {
	fx := newFixture(t)
	fx.dev = testutil.NewRemovableTestDevice()
	fx.addFile("a.jpg", 10)
	svc := arc.NewArcService(fx.store, fx.fsmgr, arc.MediaSet{Name: "disc", Capacity: 1000, Device: fx.dev},
		arc.Options{Sources: []string{testRoot}, PollInterval: time.Hour},
		arc.NewNopLogger(), fx.clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	plan := fx.plan(t, svc)
	err := svc.Archive(ctx, plan, func(e arc.ProgressEvent) {
		if e.Stage == arc.StageAwaitingMedia {
			cancel()
		}
	})
	if !errors.Is(err, arc.ErrCancelled) {
		t.Fatalf("Archive() error = %v, want ErrCancelled", err)
	}
	if n := len(fx.volumes(t)); n != 0 {
		t.Errorf("stored %d volumes, want none before the first copy", n)
	}
}

func TestArchive_FinalizedVolumeIsNeverReopened(t *testing.T) {
	fx := newFixture(t)
	fx.addFile("a.jpg", 10)
	svc := fx.service(1000, arc.Options{})
	fx.archive(t, svc)

	fx.addFile("b.jpg", 10)
	plan := fx.archive(t, svc)
	if plan.NewVolumes != 1 {
		t.Errorf("NewVolumes = %d, want 1", plan.NewVolumes)
	}
	volumes := fx.volumes(t)
	if len(volumes) != 2 || len(volumes[0].Files) != 1 || len(volumes[1].Files) != 1 {
		t.Errorf("volumes = %v, want one file each on two volumes", volumes)
	}

	proc := arc.NewArchiveProcessor(fx.store, fx.fsmgr, fx.dev, arc.ProcessorOptions{}, arc.NewNopLogger(), fx.clock)
	cat := arc.NewCatalog("disc", volumes)
	if err := proc.ProcessVolume(context.Background(), cat, cat.Volume(1), nil); !errors.Is(err, arc.ErrVolumeFinalized) {
		t.Errorf("ProcessVolume() error = %v, want ErrVolumeFinalized", err)
	}
}

func TestArchive_ReportsGoToSink(t *testing.T) {
	fx := newFixture(t)
	fx.addFile("a.jpg", 10)
	sink := &memorySink{}
	svc := fx.service(1000, arc.Options{Reports: sink})
	fx.archive(t, svc)

	want := []string{"disc/disc-0001.index.txt", "disc/master-index.txt", "disc/disc-0001.hashes.txt"}
	if !equalStrings(sink.names, want) {
		t.Errorf("reports = %v, want %v", sink.names, want)
	}
	index, _ := fx.dev.File("disc-0001", path.Join(arc.VolumeReportDir, arc.IndexFileName))
	if !strings.HasPrefix(string(index), arc.IndexHeader+"\n") || !strings.Contains(string(index), "photos/a.jpg") {
		t.Errorf("index = %q", index)
	}
}

type memorySink struct {
	names []string
}

func (s *memorySink) WriteReport(set, name string, _ []byte) error {
	s.names = append(s.names, set+"/"+name)
	return nil
}
