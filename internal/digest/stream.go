package digest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"
)

// DefaultBufferSize is the chunk size used when streaming data through a hasher.
const DefaultBufferSize = 1 << 20

// DefaultInterval is the minimum time between non-final progress callbacks.
const DefaultInterval = 250 * time.Millisecond

// Progress is reported while a Stream copies data.
type Progress struct {
	BytesDone  int64
	BytesTotal int64 // -1 when unknown
	Rate       float64
	Final      bool
}

// ProgressFunc receives progress updates from a Stream.
type ProgressFunc func(Progress)

// Stream computes a rolling digest over data copied through it. Data is
// processed in fixed-size chunks so it is never held in memory as a whole.
// The digest is finalized exactly once, when the source reaches end of stream.
type Stream struct {
	alg      Algorithm
	h        hash.Hash
	buf      []byte
	interval time.Duration
	now      func() time.Time
	progress ProgressFunc

	sum       string
	finalized bool
}

// Option configures a Stream.
type Option func(*Stream)

// WithBufferSize sets the chunk size. Values < 1 keep the default.
func WithBufferSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.buf = make([]byte, n)
		}
	}
}

// WithProgress sets the progress callback and its sampling interval.
func WithProgress(interval time.Duration, fn ProgressFunc) Option {
	return func(s *Stream) {
		s.progress = fn
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithClock sets the time source used for sampling and rate computation.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStream creates a Stream for the algorithm.
func NewStream(alg Algorithm, opts ...Option) (*Stream, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	s := &Stream{
		alg:      alg,
		h:        h,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.buf == nil {
		s.buf = make([]byte, DefaultBufferSize)
	}
	return s, nil
}

// Algorithm returns the algorithm this stream computes.
func (s *Stream) Algorithm() Algorithm {
	return s.alg
}

// Copy reads src to end of stream, feeding every chunk to the digest and, if
// dst is non-nil, writing it to dst. total is the expected length for progress
// reporting (-1 if unknown). Cancellation is checked between chunks only, so a
// chunk that has been read is always written before ctx is honored.
func (s *Stream) Copy(ctx context.Context, dst io.Writer, src io.Reader, total int64) (int64, error) {
	if s.finalized {
		return 0, fmt.Errorf("digest stream already finalized")
	}

	start := s.now()
	lastReport := start
	var done int64

	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		n, readErr := src.Read(s.buf)
		if n > 0 {
			chunk := s.buf[:n]
			_, _ = s.h.Write(chunk)
			if dst != nil {
				if _, err := dst.Write(chunk); err != nil {
					return done, fmt.Errorf("writing chunk: %w", err)
				}
			}
			done += int64(n)
		}

		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return done, fmt.Errorf("reading chunk: %w", readErr)
		}
		eof := errors.Is(readErr, io.EOF)

		if s.progress != nil {
			now := s.now()
			if eof || now.Sub(lastReport) >= s.interval {
				s.progress(Progress{
					BytesDone:  done,
					BytesTotal: total,
					Rate:       rate(done, now.Sub(start)),
					Final:      eof,
				})
				lastReport = now
			}
		}

		if eof {
			s.finalize()
			return done, nil
		}
	}
}

// Sum returns the hex digest. It is empty until Copy has reached end of stream.
func (s *Stream) Sum() string {
	return s.sum
}

func (s *Stream) finalize() {
	if s.finalized {
		return
	}
	s.sum = hex.EncodeToString(s.h.Sum(nil))
	s.finalized = true
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// HashReader streams r through a fresh digest of the given algorithm and
// returns its hex sum and length.
func HashReader(ctx context.Context, alg Algorithm, r io.Reader) (string, int64, error) {
	s, err := NewStream(alg)
	if err != nil {
		return "", 0, err
	}
	n, err := s.Copy(ctx, nil, r, -1)
	if err != nil {
		return "", n, err
	}
	return s.Sum(), n, nil
}
