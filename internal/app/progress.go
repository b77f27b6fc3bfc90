package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"arc-go/internal/arc"
)

// Printer renders progress events. On a terminal it redraws one status line
// in place; otherwise it prints a line per stage change and at most one per
// interval in between.
type Printer struct {
	w        io.Writer
	tty      bool
	width    int
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastStage arc.Stage
	lastVol   string
	lastAt    time.Time
	started   bool
	dirty     bool
}

// NewPrinter creates a Printer for f, detecting whether f is a terminal.
func NewPrinter(f *os.File) *Printer {
	tty := term.IsTerminal(int(f.Fd()))
	width := 0
	if tty {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = w
		}
	}
	return newPrinter(f, tty, width)
}

func newPrinter(w io.Writer, tty bool, width int) *Printer {
	return &Printer{w: w, tty: tty, width: width, interval: 2 * time.Second, now: time.Now}
}

// Start runs the printer on its own goroutine and returns the ProgressFunc
// to hand to the pipeline and a stop function that drains pending events and
// ends the status line.
func (p *Printer) Start() (arc.ProgressFunc, func()) {
	ch := make(chan arc.ProgressEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			p.Handle(e)
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(ch)
			<-done
			p.Finish()
		})
	}
	return arc.ChannelProgress(ch), stop
}

// Handle renders one event.
func (p *Printer) Handle(e arc.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := FormatEvent(e)
	if line == "" {
		return
	}
	changed := !p.started || e.Stage != p.lastStage || e.Volume != p.lastVol
	p.started = true
	p.lastStage, p.lastVol = e.Stage, e.Volume

	if p.tty {
		if changed && p.dirty && persistent(e.Stage) {
			fmt.Fprintln(p.w)
		}
		if p.width > 1 && len(line) >= p.width {
			line = line[:p.width-1]
		}
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		p.dirty = true
		return
	}

	now := p.now()
	if changed || persistent(e.Stage) || now.Sub(p.lastAt) >= p.interval {
		p.lastAt = now
		fmt.Fprintln(p.w, line)
	}
}

// Finish ends an in-place status line.
func (p *Printer) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.dirty {
		fmt.Fprintln(p.w)
		p.dirty = false
	}
}

// persistent reports whether a stage's line stays on screen instead of being
// overwritten by the next one.
func persistent(s arc.Stage) bool {
	switch s {
	case arc.StageFinalized, arc.StageVerified, arc.StageSkipped:
		return true
	}
	return false
}

// FormatEvent renders an event as one line of text.
func FormatEvent(e arc.ProgressEvent) string {
	switch e.Stage {
	case arc.StageScanning:
		return fmt.Sprintf("scanning: %d new, %d existing, %d pending, %d excluded",
			e.Stats.New, e.Stats.Existing, e.Stats.Pending, e.Stats.Excluded)
	case arc.StageSizing:
		return fmt.Sprintf("sizing: %s, %s",
			fraction(e.FilesDone, e.FilesTotal), humanize.Bytes(uint64(max(e.BytesDone, 0))))
	case arc.StageDetectingRenames:
		return fmt.Sprintf("detecting renames: %s, %d matched", fraction(e.FilesDone, e.FilesTotal), e.Stats.Renamed)
	case arc.StageAllocating:
		return fmt.Sprintf("allocating: %s to %d volume(s)", fraction(e.FilesDone, e.FilesTotal), e.VolumesTouched)
	case arc.StageAwaitingMedia:
		return fmt.Sprintf("%s: %s", e.Volume, e.Message)
	case arc.StageCopying, arc.StageVerifying:
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s", e.Volume, e.Stage)
		if e.FilesTotal > 0 {
			fmt.Fprintf(&b, " %s", fraction(e.FilesDone, e.FilesTotal))
		}
		fmt.Fprintf(&b, " %s", bytesFraction(e.BytesDone, e.BytesTotal))
		if e.Rate > 0 {
			fmt.Fprintf(&b, " %s/s", humanize.Bytes(uint64(e.Rate)))
		}
		if e.Path != "" {
			fmt.Fprintf(&b, " %s", e.Path)
		}
		return b.String()
	case arc.StageSealing:
		if e.Message != "" {
			return fmt.Sprintf("%s: sealing (%s)", e.Volume, e.Message)
		}
		return fmt.Sprintf("%s: sealing", e.Volume)
	case arc.StageFinalized:
		return fmt.Sprintf("%s: finalized, %d files, %s", e.Volume, e.FilesDone, humanize.Bytes(uint64(max(e.BytesDone, 0))))
	case arc.StageVerified:
		if e.Valid {
			return fmt.Sprintf("%s: OK", e.Volume)
		}
		return fmt.Sprintf("%s: FAILED verification", e.Volume)
	case arc.StageSkipped:
		return fmt.Sprintf("%s: skipped, verified recently", e.Volume)
	default:
		if e.Volume != "" {
			return fmt.Sprintf("%s: %s", e.Volume, e.Stage)
		}
		return e.Stage.String()
	}
}

func fraction(done, total int) string {
	if total > 0 {
		return fmt.Sprintf("%d/%d files", done, total)
	}
	return fmt.Sprintf("%d files", done)
}

func bytesFraction(done, total int64) string {
	if total > 0 {
		pct := float64(done) / float64(total) * 100
		return fmt.Sprintf("%s/%s (%.0f%%)", humanize.Bytes(uint64(max(done, 0))), humanize.Bytes(uint64(total)), pct)
	}
	return humanize.Bytes(uint64(max(done, 0)))
}
