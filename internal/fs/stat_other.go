//go:build !linux

package fs

import (
	"io/fs"

	"arc-go/internal/arc"
)

// fileTimes returns the modification time only; birth and access times are
// not read on this platform.
func fileTimes(_ string, info fs.FileInfo) arc.FileTimes {
	return arc.FileTimes{Modified: info.ModTime().UTC()}
}
