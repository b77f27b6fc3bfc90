package device

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"arc-go/internal/arc"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func testVolume(n int) *arc.Volume {
	return &arc.Volume{Set: "disc", Number: n, Capacity: 1 << 20, CreatedAt: testTime}
}

// writeEntry writes content through d as one volume file.
func writeEntry(t *testing.T, d arc.Device, v *arc.Volume, rel, content string) {
	t.Helper()
	w, err := d.Create(context.Background(), v, arc.Entry{
		RelativePath: rel,
		Size:         int64(len(content)),
		Times:        arc.FileTimes{Modified: testTime.Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", rel, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		t.Fatalf("Write(%s) error = %v", rel, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%s) error = %v", rel, err)
	}
}

// streamSum hashes a whole volume stream.
func streamSum(t *testing.T, open func(context.Context, *arc.Volume) (io.ReadCloser, error), v *arc.Volume) string {
	t.Helper()
	rc, err := open(context.Background(), v)
	if err != nil {
		t.Fatalf("open stream error = %v", err)
	}
	defer rc.Close()
	h := md5.New()
	if _, err := io.Copy(h, rc); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return hex.EncodeToString(h.Sum(nil))
}
