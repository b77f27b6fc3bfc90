package device

import (
	"io"
	"sort"
	"strconv"
)

// streamEntry is one file of a volume stream. open is called only when the
// stream reaches the entry.
type streamEntry struct {
	path string
	size int64
	open func() (io.ReadCloser, error)
}

// volumeStream frames the files of a volume as
//
//	<path> NUL <size> NUL <content>
//
// concatenated in slash-path order. Directory, disk and bucket devices seal
// and verify this stream, so a changed name, size or byte changes its digest.
type volumeStream struct {
	entries []streamEntry
	next    int
	header  []byte
	cur     io.ReadCloser
}

func newVolumeStream(entries []streamEntry) *volumeStream {
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })
	return &volumeStream{entries: entries}
}

func frameHeader(path string, size int64) []byte {
	b := make([]byte, 0, len(path)+24)
	b = append(b, path...)
	b = append(b, 0)
	b = strconv.AppendInt(b, size, 10)
	return append(b, 0)
}

func (s *volumeStream) Read(p []byte) (int, error) {
	for {
		if len(s.header) > 0 {
			n := copy(p, s.header)
			s.header = s.header[n:]
			return n, nil
		}
		if s.cur != nil {
			n, err := s.cur.Read(p)
			if err == io.EOF {
				s.cur.Close()
				s.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}
		if s.next >= len(s.entries) {
			return 0, io.EOF
		}
		e := s.entries[s.next]
		s.next++
		rc, err := e.open()
		if err != nil {
			return 0, err
		}
		s.cur = rc
		s.header = frameHeader(e.path, e.size)
	}
}

func (s *volumeStream) Close() error {
	if s.cur != nil {
		err := s.cur.Close()
		s.cur = nil
		return err
	}
	return nil
}
