package arc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"arc-go/internal/digest"
)

// Names of the report files written onto every volume.
const (
	VolumeReportDir     = "_arc"
	IndexFileName       = "INDEX.txt"
	MasterIndexFileName = "MASTER-INDEX.txt"
	HashListFileName    = "HASHES.txt"
)

// IndexHeader is the header row of index files.
const IndexHeader = "Vol   Archive Date (UTC)   Create Date (UTC)   Modify Date (UTC)   Size   Path"

const indexTimeLayout = "2006-01-02 15:04:05"

// ReportSink stores copies of volume reports outside the volume.
type ReportSink interface {
	WriteReport(set, name string, data []byte) error
}

// IndexRow is one line of an index file.
type IndexRow struct {
	Volume int
	File   *SourceFile
}

// WriteIndex writes the header and one row per file, sorted by relative path.
func WriteIndex(w io.Writer, rows []IndexRow) error {
	sorted := make([]IndexRow, len(rows))
	copy(sorted, rows)
	sortRows(sorted)

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, IndexHeader)
	for _, r := range sorted {
		f := r.File
		fmt.Fprintf(bw, "%04d  %19s  %19s  %19s  %14d   %s\n",
			r.Volume,
			formatIndexTime(f.ArchivedAt),
			formatIndexTime(f.Times.Created),
			formatIndexTime(f.Times.Modified),
			f.Size,
			f.RelativePath,
		)
	}
	return bw.Flush()
}

// WriteHashList writes the digest of every copied, non-empty file with a
// recorded hash, sorted by relative path.
func WriteHashList(w io.Writer, alg digest.Algorithm, files []*SourceFile) error {
	var listed []*SourceFile
	for _, f := range files {
		if f.Copied && f.Size > 0 && f.Hash != "" {
			listed = append(listed, f)
		}
	}
	sortByPath(listed)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s Hash   File\n", alg.Label())
	for _, f := range listed {
		fmt.Fprintf(bw, "%s   %s\n", f.Hash, f.RelativePath)
	}
	return bw.Flush()
}

func formatIndexTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(indexTimeLayout)
}

func sortRows(rows []IndexRow) {
	files := make([]*SourceFile, len(rows))
	byFile := make(map[*SourceFile]int, len(rows))
	for i, r := range rows {
		files[i] = r.File
		byFile[r.File] = r.Volume
	}
	sortByPath(files)
	for i, f := range files {
		rows[i] = IndexRow{Volume: byFile[f], File: f}
	}
}

// volumeRows returns index rows for the copied files of v.
func volumeRows(v *Volume) []IndexRow {
	var rows []IndexRow
	for _, f := range v.CopiedFiles() {
		rows = append(rows, IndexRow{Volume: v.Number, File: f})
	}
	return rows
}

// masterRows returns index rows for every copied file of every finalized
// volume plus the volume being finalized.
func masterRows(cat *Catalog, current *Volume) []IndexRow {
	var rows []IndexRow
	for _, v := range cat.Volumes {
		if v.Finalized || v == current {
			rows = append(rows, volumeRows(v)...)
		}
	}
	return rows
}

// reportWriter renders reports and writes them onto the volume and to the sink.
type reportWriter struct {
	device Device
	sink   ReportSink
	logger Logger
}

func (r *reportWriter) write(ctx context.Context, v *Volume, name, localName string, data []byte) error {
	e := Entry{RelativePath: VolumeReportDir + "/" + name, Size: int64(len(data))}
	w, err := r.device.Create(ctx, v, e)
	if err != nil {
		return fmt.Errorf("creating %s on %s: %w", e.RelativePath, v.Label(), err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing %s on %s: %w", e.RelativePath, v.Label(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing %s on %s: %w", e.RelativePath, v.Label(), err)
	}

	if r.sink != nil && localName != "" {
		if err := r.sink.WriteReport(v.Set, localName, data); err != nil {
			return fmt.Errorf("writing report %s: %w", localName, err)
		}
	}
	r.logger.Debug("report written", "volume", v.Label(), "name", name, "bytes", len(data))
	return nil
}

// writeIndexes writes the volume-local and the cumulative master index.
func (r *reportWriter) writeIndexes(ctx context.Context, cat *Catalog, v *Volume) error {
	var local, master bytes.Buffer
	if err := WriteIndex(&local, volumeRows(v)); err != nil {
		return err
	}
	if err := WriteIndex(&master, masterRows(cat, v)); err != nil {
		return err
	}
	if err := r.write(ctx, v, IndexFileName, v.Label()+".index.txt", local.Bytes()); err != nil {
		return err
	}
	return r.write(ctx, v, MasterIndexFileName, "master-index.txt", master.Bytes())
}

// writeHashList writes the volume's hash list.
func (r *reportWriter) writeHashList(ctx context.Context, v *Volume) error {
	alg, err := digest.Parse(v.HashAlgorithm)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteHashList(&buf, alg, v.Files); err != nil {
		return err
	}
	return r.write(ctx, v, HashListFileName, v.Label()+".hashes.txt", buf.Bytes())
}
