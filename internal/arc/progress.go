package arc

import "time"

// ProgressEvent is a progress update emitted by the pipeline. Events are
// values; observers never share state with the worker pass.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage Stage

	// Volume is the label of the volume being processed, if applicable.
	Volume string

	// Path is the file currently being processed, if applicable.
	Path string

	// FilesDone and FilesTotal count files in the current stage.
	// FilesTotal is zero when unknown.
	FilesDone  int
	FilesTotal int

	// BytesDone and BytesTotal count bytes in the current stage.
	// BytesTotal is zero when unknown.
	BytesDone  int64
	BytesTotal int64

	// Rate is the current throughput in bytes per second.
	Rate float64

	// Stats is a snapshot of the run's counters.
	Stats ScanStats

	// VolumesTouched is the number of volumes that received files during allocation.
	VolumesTouched int

	// Valid is the outcome of a finished verification.
	Valid bool

	// Message is a human readable status, e.g. "need different medium".
	Message string
}

// Stage identifies the current phase of an operation.
type Stage uint8

const (
	StageScanning Stage = iota
	StageSizing
	StageDetectingRenames
	StageAllocating
	StageAwaitingMedia
	StageCopying
	StageCheckpoint
	StageWritingIndex
	StageWritingHashList
	StageSealing
	StageWritingSummary
	StageFinalized
	StageVerifying
	StageVerified
	StageSkipped
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "scanning"
	case StageSizing:
		return "sizing"
	case StageDetectingRenames:
		return "detecting renames"
	case StageAllocating:
		return "allocating"
	case StageAwaitingMedia:
		return "awaiting media"
	case StageCopying:
		return "copying"
	case StageCheckpoint:
		return "checkpoint"
	case StageWritingIndex:
		return "writing index"
	case StageWritingHashList:
		return "writing hash list"
	case StageSealing:
		return "sealing"
	case StageWritingSummary:
		return "writing summary"
	case StageFinalized:
		return "finalized"
	case StageVerifying:
		return "verifying"
	case StageVerified:
		return "verified"
	case StageSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress events. It is called on the worker's
// goroutine and must return quickly.
type ProgressFunc func(ProgressEvent)

func (fn ProgressFunc) emit(e ProgressEvent) {
	if fn != nil {
		fn(e)
	}
}

// ChannelProgress returns a ProgressFunc that forwards events to ch without
// blocking. Events are dropped while the consumer is behind, so a slow
// renderer never stalls I/O.
func ChannelProgress(ch chan<- ProgressEvent) ProgressFunc {
	return func(e ProgressEvent) {
		select {
		case ch <- e:
		default:
		}
	}
}

// sampler limits how often non-final progress events are emitted.
type sampler struct {
	clock    Clock
	interval time.Duration
	last     time.Time
	started  bool
}

func newSampler(clock Clock, interval time.Duration) *sampler {
	return &sampler{clock: clock, interval: interval}
}

// ready reports whether an event may be emitted now. The first call is
// always ready.
func (s *sampler) ready() bool {
	now := s.clock.Now()
	if !s.started || now.Sub(s.last) >= s.interval {
		s.started = true
		s.last = now
		return true
	}
	return false
}
