package fs

import (
	"bytes"
	"fmt"
	"path/filepath"

	"arc-go/internal/arc"
)

// ReportDir keeps local copies of volume reports, one subdirectory per media set:
//
//	<root>/
//	  <set>/
//	    <label>.index.txt
//	    <label>.hashes.txt
//	    master-index.txt
type ReportDir struct {
	Root string
}

// NewReportDir creates a ReportDir rooted at root.
func NewReportDir(root string) *ReportDir {
	return &ReportDir{Root: root}
}

// WriteReport atomically replaces <root>/<set>/<name> with data.
func (d *ReportDir) WriteReport(set, name string, data []byte) error {
	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("invalid report name: %q", name)
	}
	dest := filepath.Join(d.Root, set, name)
	if err := WriteFileAtomic(dest, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing report %s: %w", dest, err)
	}
	return nil
}

// Compile-time check that ReportDir implements arc.ReportSink interface
var _ arc.ReportSink = (*ReportDir)(nil)
