package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/config"
)

func writeSource(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T, base string, sources ...string) *config.Config {
	t.Helper()
	cfg := config.NewConfig("host-1", base)
	cfg.Archive.Sources = sources
	cfg.Media[0].Capacity = 1 << 20
	cfg.Media[0].Reserved = 1024
	cfg.Encryption.Type = "test"
	cfg.Export.Dir = filepath.Join(base, "export")
	return cfg
}

func TestArcApp_ArchiveVerifyExportImport(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	src := filepath.Join(base, "photos")
	writeSource(t, src, map[string]string{
		"a.txt":           "alpha",
		"b/c.txt":         "charlie",
		"b/skip.tmp":      "ignored by suffix",
		"cache/thumb.jpg": "ignored by pattern",
		".arcignore":      "# thumbnails\ncache\n",
	})

	cfg := testConfig(t, base, src)
	cfg.Archive.ExcludeSuffixes = []string{".tmp"}

	a, err := NewArcApp(ctx, cfg, Options{Operation: "archive"})
	if err != nil {
		t.Fatalf("NewArcApp() error = %v", err)
	}

	plan, err := a.Plan(ctx, nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.PendingFiles != 2 {
		t.Errorf("PendingFiles = %d, want 2", plan.PendingFiles)
	}
	if plan.NewVolumes != 1 || len(plan.Volumes) != 1 {
		t.Fatalf("NewVolumes = %d, Volumes = %d, want 1 and 1", plan.NewVolumes, len(plan.Volumes))
	}

	if err := a.Archive(ctx, plan, nil); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(base, "volumes", "disc-0001", "photos", "b", "c.txt"))
	if err != nil {
		t.Fatalf("reading archived file: %v", err)
	}
	if string(got) != "charlie" {
		t.Errorf("archived content = %q, want %q", got, "charlie")
	}

	outcomes, err := a.Verify(ctx, nil, false, nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Skipped || !outcomes[0].Result.Valid {
		t.Fatalf("Verify() outcomes = %+v, want one valid result", outcomes)
	}

	rows, err := a.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Summary() returned %d rows, want 1", len(rows))
	}
	if !rows[0].Finalized || !rows[0].Verified || !rows[0].LastValid || rows[0].VerifyDue {
		t.Errorf("Summary()[0] = %+v, want finalized, verified and not due", rows[0])
	}
	if rows[0].Files != 2 {
		t.Errorf("Summary()[0].Files = %d, want 2", rows[0].Files)
	}

	found, err := a.Search("C.TXT")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(found) != 1 || found[0].RelativePath != "photos/b/c.txt" {
		t.Errorf("Search() = %v, want photos/b/c.txt", found)
	}

	ops, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "archive" || ops[0].Status != arc.StatusRunning {
		t.Errorf("History() = %+v, want one running archive operation", ops)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	snaps, err := filepath.Glob(filepath.Join(cfg.Export.Dir, "host-1-*"+SnapshotExt))
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("found %d snapshots, want 1", len(snaps))
	}

	// A fresh index on another machine restores the set from the snapshot.
	restoreBase := t.TempDir()
	restoreCfg := testConfig(t, restoreBase, src)
	restoreCfg.Export.Dir = ""

	r, err := NewArcApp(ctx, restoreCfg, Options{Operation: "index import"})
	if err != nil {
		t.Fatalf("NewArcApp() error = %v", err)
	}
	defer r.Close()

	n, err := r.ImportIndex(snaps[0], "passphrase")
	if err != nil {
		t.Fatalf("ImportIndex() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ImportIndex() = %d, want 1", n)
	}

	restored, err := r.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(restored) != 1 || restored[0].Files != 2 || !restored[0].Finalized || !restored[0].Verified {
		t.Errorf("restored summary = %+v, want the archived volume", restored)
	}
}

func TestArcApp_ReadOnlyCommandsRecordNothing(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	src := filepath.Join(base, "docs")
	writeSource(t, src, map[string]string{"x.txt": "x"})

	cfg := testConfig(t, base, src)
	a, err := NewArcApp(ctx, cfg, Options{Operation: "scan"})
	if err != nil {
		t.Fatalf("NewArcApp() error = %v", err)
	}

	plan, err := a.Plan(ctx, nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.PendingFiles != 1 {
		t.Errorf("PendingFiles = %d, want 1", plan.PendingFiles)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A plan that is never archived leaves no trace.
	b, err := NewArcApp(ctx, cfg, Options{Operation: "history"})
	if err != nil {
		t.Fatalf("NewArcApp() error = %v", err)
	}
	defer b.Close()

	ops, err := b.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("History() = %d operations, want 0", len(ops))
	}
	rows, err := b.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Summary() = %d rows, want 0", len(rows))
	}
	if _, err := os.Stat(cfg.Export.Dir); !os.IsNotExist(err) {
		t.Errorf("export dir exists after read-only commands: %v", err)
	}
}

func TestNewArcApp_ConfigErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		modify func(cfg *config.Config)
		opts   Options
	}{
		{
			name:   "no sources",
			modify: func(cfg *config.Config) { cfg.Archive.Sources = nil },
		},
		{
			name:   "unknown media set",
			modify: func(cfg *config.Config) {},
			opts:   Options{Set: "tape"},
		},
		{
			name:   "unknown digest",
			modify: func(cfg *config.Config) { cfg.Archive.Digest = "crc32" },
		},
		{
			name:   "unknown encryption",
			modify: func(cfg *config.Config) { cfg.Encryption.Type = "rot13" },
		},
		{
			name:   "reserved above capacity",
			modify: func(cfg *config.Config) { cfg.Media[0].Reserved = 2 << 20 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			cfg := testConfig(t, base, filepath.Join(base, "src"))
			tt.modify(cfg)
			a, err := NewArcApp(ctx, cfg, tt.opts)
			if err == nil {
				a.Close()
				t.Fatal("NewArcApp() succeeded, want error")
			}
		})
	}
}

func TestFormatVolumes(t *testing.T) {
	tests := []struct {
		in   []int
		want string
	}{
		{nil, ""},
		{[]int{3}, "3"},
		{[]int{1, 2, 10}, "1,2,10"},
	}
	for _, tt := range tests {
		if got := FormatVolumes(tt.in); got != tt.want {
			t.Errorf("FormatVolumes(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
