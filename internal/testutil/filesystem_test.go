package testutil

import (
	"io"
	"io/fs"
	"testing"

	"arc-go/internal/arc"
)

func TestMockFilesystemManager_WalkOrder(t *testing.T) {
	m := NewMockFilesystemManager()
	m.AddFile("/src/docs/a-b.txt", []byte("1"))
	m.AddFile("/src/docs/a/c.txt", []byte("2"))
	m.AddFile("/src/docs/z.txt", []byte("3"))
	m.AddDirectory("/src/docs/empty")
	m.AddFile("/other/x.txt", []byte("4"))

	type visit struct {
		path  string
		isDir bool
	}
	var got []visit
	err := m.Walk("/src/docs", func(p string, isDir bool) error {
		got = append(got, visit{p, isDir})
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := []visit{
		{"/src/docs/a", true},
		{"/src/docs/a/c.txt", false},
		{"/src/docs/a-b.txt", false},
		{"/src/docs/empty", true},
		{"/src/docs/z.txt", false},
	}
	if len(got) != len(want) {
		t.Fatalf("Walk() visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("visit[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMockFilesystemManager_SkipDir(t *testing.T) {
	m := NewMockFilesystemManager()
	m.AddFile("/src/skip/a.txt", []byte("1"))
	m.AddFile("/src/keep/b.txt", []byte("2"))

	var files []string
	err := m.Walk("/src", func(p string, isDir bool) error {
		if isDir && p == "/src/skip" {
			return fs.SkipDir
		}
		if !isDir {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(files) != 1 || files[0] != "/src/keep/b.txt" {
		t.Errorf("files = %v, want [/src/keep/b.txt]", files)
	}
}

func TestMockFilesystemManager_StatOpenRemove(t *testing.T) {
	m := NewMockFilesystemManager()
	m.AddFile("/src/a.txt", []byte("hello"))

	if ok, _ := m.IsDir("/src"); !ok {
		t.Error("IsDir(/src) = false, want true")
	}
	if ok, _ := m.IsDir("/missing"); ok {
		t.Error("IsDir(/missing) = true, want false")
	}

	meta, err := m.Stat("/src/a.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if meta.Size != 5 || !meta.Times.Modified.Equal(DefaultFileTime) {
		t.Errorf("Stat() = %+v", meta)
	}

	rc, err := m.Open("/src/a.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}

	m.RemoveFile("/src/a.txt")
	if _, err := m.Stat("/src/a.txt"); !arc.IsNotExist(err) {
		t.Errorf("Stat() after remove error = %v, want not-exist", err)
	}
	if _, err := m.Open("/src/a.txt"); !arc.IsNotExist(err) {
		t.Errorf("Open() after remove error = %v, want not-exist", err)
	}
}
