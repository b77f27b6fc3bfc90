package device

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func memEntry(path, content string) streamEntry {
	return streamEntry{
		path: path,
		size: int64(len(content)),
		open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func TestVolumeStream(t *testing.T) {
	tests := []struct {
		name    string
		entries []streamEntry
		want    string
	}{
		{
			name: "frames in path order",
			entries: []streamEntry{
				memEntry("docs/b.txt", "bb"),
				memEntry("docs/a.txt", "a"),
			},
			want: "docs/a.txt\x001\x00a" + "docs/b.txt\x002\x00bb",
		},
		{
			name:    "empty file still framed",
			entries: []streamEntry{memEntry("empty", "")},
			want:    "empty\x000\x00",
		},
		{
			name:    "no entries",
			entries: nil,
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newVolumeStream(tt.entries)
			defer s.Close()
			got, err := io.ReadAll(s)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("stream = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVolumeStream_OpenError(t *testing.T) {
	boom := errors.New("boom")
	s := newVolumeStream([]streamEntry{{
		path: "x",
		open: func() (io.ReadCloser, error) { return nil, boom },
	}})
	if _, err := io.ReadAll(s); !errors.Is(err, boom) {
		t.Errorf("ReadAll() error = %v, want %v", err, boom)
	}
}
