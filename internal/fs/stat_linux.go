//go:build linux

package fs

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"

	"arc-go/internal/arc"
)

// fileTimes reads birth, modify and access times with statx. Filesystems
// that do not record a birth time leave Created zero.
func fileTimes(path string, info fs.FileInfo) arc.FileTimes {
	times := arc.FileTimes{Modified: info.ModTime().UTC()}

	var stx unix.Statx_t
	mask := unix.STATX_BTIME | unix.STATX_ATIME | unix.STATX_MTIME
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, mask, &stx); err != nil {
		return times
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		times.Created = statxTime(stx.Btime)
	}
	if stx.Mask&unix.STATX_ATIME != 0 {
		times.Accessed = statxTime(stx.Atime)
	}
	return times
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec)).UTC()
}
