package arc_test

import (
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/testutil"
)

func TestCatalog_FromVolumes(t *testing.T) {
	v2 := &arc.Volume{Set: "disc", Number: 2, Capacity: 100, Committed: 10, Files: []*arc.SourceFile{
		{RelativePath: "photos/b.jpg", Size: 10},
	}}
	v1 := &arc.Volume{Set: "disc", Number: 1, Capacity: 100, Committed: 30, Finalized: true, Files: []*arc.SourceFile{
		{RelativePath: "photos/a.jpg", Size: 20, Copied: true},
		{RelativePath: "photos/c.jpg", Size: 10, Copied: true},
	}}
	cat := arc.NewCatalog("disc", []*arc.Volume{v2, v1})

	if cat.Volumes[0] != v1 || cat.Volumes[1] != v2 {
		t.Error("volumes not ordered by number")
	}
	if cat.Len() != 3 || cat.NextVolumeNumber() != 3 {
		t.Errorf("Len() = %d, NextVolumeNumber() = %d, want 3 and 3", cat.Len(), cat.NextVolumeNumber())
	}
	if f := cat.Lookup("photos/b.jpg"); f == nil || f.Volume() != v2 || f.VolumeNumber != 2 {
		t.Errorf("Lookup(b) = %+v, want linked to volume 2", f)
	}
	if got := filePaths(cat.Archived()); !equalStrings(got, []string{"photos/a.jpg", "photos/c.jpg"}) {
		t.Errorf("Archived() = %v", got)
	}
	if open := cat.OpenVolumes(); len(open) != 1 || open[0] != v2 {
		t.Errorf("OpenVolumes() = %v, want volume 2", open)
	}
	if fin := cat.FinalizedVolumes(); len(fin) != 1 || fin[0] != v1 {
		t.Errorf("FinalizedVolumes() = %v, want volume 1", fin)
	}
	if err := cat.Check(); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	v := cat.NewVolume(arc.KindMemory, 100, testutil.FixedClock().Now())
	if v.Number != 3 || v.Set != "disc" || v.Label() != "disc-0003" {
		t.Errorf("NewVolume() = %+v", v)
	}
}

func TestCatalog_AddRemove(t *testing.T) {
	cat := arc.NewCatalog("disc", []*arc.Volume{{Set: "disc", Number: 1, Capacity: 100, Committed: 5, Files: []*arc.SourceFile{
		{RelativePath: "photos/a.jpg", Size: 5},
	}}})
	root := arc.SourceRoot{Path: testRoot, Name: "photos"}

	if err := cat.Add(arc.NewSourceFile(root, "photos/a.jpg")); err == nil {
		t.Error("Add() of a known path succeeded")
	}
	if err := cat.Remove(cat.Lookup("photos/a.jpg")); err == nil {
		t.Error("Remove() of an assigned file succeeded")
	}

	f := arc.NewSourceFile(root, "photos/b.jpg")
	if err := cat.Add(f); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := filePaths(cat.Unsized()); !equalStrings(got, []string{"photos/b.jpg"}) {
		t.Errorf("Unsized() = %v", got)
	}
	f.Size = 3
	if got := filePaths(cat.Unassigned()); !equalStrings(got, []string{"photos/b.jpg"}) {
		t.Errorf("Unassigned() = %v", got)
	}
	if err := cat.Remove(f); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if cat.Lookup("photos/b.jpg") != nil {
		t.Error("removed file still present")
	}
}

func TestCatalog_CheckDetectsOvercommit(t *testing.T) {
	tests := []struct {
		name string
		v    *arc.Volume
	}{
		{
			name: "committed does not match files",
			v: &arc.Volume{Set: "disc", Number: 1, Capacity: 100, Committed: 7, Files: []*arc.SourceFile{
				{RelativePath: "photos/a.jpg", Size: 5},
			}},
		},
		{
			name: "over capacity",
			v: &arc.Volume{Set: "disc", Number: 1, Capacity: 4, Committed: 5, Files: []*arc.SourceFile{
				{RelativePath: "photos/a.jpg", Size: 5},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := arc.NewCatalog("disc", []*arc.Volume{tt.v}).Check(); err == nil {
				t.Error("Check() succeeded")
			}
		})
	}
}

func TestVolume_Fits(t *testing.T) {
	tests := []struct {
		name string
		v    arc.Volume
		size int64
		want bool
	}{
		{name: "room left", v: arc.Volume{Capacity: 100, Committed: 50}, size: 50, want: true},
		{name: "exactly full", v: arc.Volume{Capacity: 100, Committed: 100}, size: 0, want: true},
		{name: "one byte over", v: arc.Volume{Capacity: 100, Committed: 50}, size: 51, want: false},
		{name: "finalized", v: arc.Volume{Capacity: 100, Finalized: true}, size: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Fits(tt.size); got != tt.want {
				t.Errorf("Fits(%d) = %t, want %t", tt.size, got, tt.want)
			}
		})
	}
}
