package arc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"arc-go/internal/digest"
)

// FreshnessWindow is how long a verification stays current.
const FreshnessWindow = 7 * 24 * time.Hour

// VerifierOptions configures a MediaVerifier.
type VerifierOptions struct {
	Freshness        time.Duration // default FreshnessWindow
	PollInterval     time.Duration // default DefaultPollInterval
	BufferSize       int
	ProgressInterval time.Duration
}

// VerifyOutcome reports what happened to one volume during verification.
type VerifyOutcome struct {
	Volume  *Volume
	Skipped bool
	Result  VerificationResult
}

// MediaVerifier re-reads finalized volumes from their medium and compares
// the digest of what it reads with the digest recorded at sealing time.
type MediaVerifier struct {
	store  IndexStore
	device Device
	logger Logger
	clock  Clock
	opts   VerifierOptions
}

// NewMediaVerifier creates a MediaVerifier.
func NewMediaVerifier(store IndexStore, device Device, opts VerifierOptions, logger Logger, clock Clock) *MediaVerifier {
	if opts.Freshness <= 0 {
		opts.Freshness = FreshnessWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = digest.DefaultBufferSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = digest.DefaultInterval
	}
	return &MediaVerifier{
		store:  store,
		device: device,
		logger: logger,
		clock:  clock,
		opts:   opts,
	}
}

// Due reports whether v needs verification at now: it has never been
// verified, or its latest verification is at least the freshness window old.
func (m *MediaVerifier) Due(v *Volume, now time.Time) bool {
	last, ok := v.LastVerification()
	if !ok {
		return true
	}
	return !now.Before(last.At.Add(m.opts.Freshness))
}

// Pending returns the finalized volumes that are due for verification.
func (m *MediaVerifier) Pending(volumes []*Volume) []*Volume {
	now := m.clock.Now()
	var out []*Volume
	for _, v := range volumes {
		if v.Finalized && m.Due(v, now) {
			out = append(out, v)
		}
	}
	return out
}

// Verify verifies each volume in order. Volumes verified within the
// freshness window are skipped unless force is set. A digest mismatch or a
// read error is recorded as an invalid result and the batch continues.
// Cancellation stops the batch; a verification interrupted mid-stream
// records no result.
func (m *MediaVerifier) Verify(ctx context.Context, volumes []*Volume, force bool, progress ProgressFunc) ([]VerifyOutcome, error) {
	var outcomes []VerifyOutcome
	for _, v := range volumes {
		if err := ctx.Err(); err != nil {
			return outcomes, cancelled(err)
		}
		if !v.Finalized {
			return outcomes, fmt.Errorf("%s is not finalized", v.Label())
		}

		if !force && !m.Due(v, m.clock.Now()) {
			last, _ := v.LastVerification()
			m.logger.Info("verification skipped, still fresh", "volume", v.Label(), "verified_at", last.At)
			progress.emit(ProgressEvent{Stage: StageSkipped, Volume: v.Label(), Valid: last.Valid})
			outcomes = append(outcomes, VerifyOutcome{Volume: v, Skipped: true, Result: last})
			continue
		}

		if err := awaitMedium(ctx, m.device, v, PhaseVerify, m.opts.PollInterval, progress); err != nil {
			return outcomes, err
		}

		result, err := m.verifyOne(ctx, v, progress)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, VerifyOutcome{Volume: v, Result: result})

		if err := m.device.Eject(ctx); err != nil {
			m.logger.Warn("eject failed", "device", m.device.Name(), "error", err)
		}
	}
	return outcomes, nil
}

func (m *MediaVerifier) verifyOne(ctx context.Context, v *Volume, progress ProgressFunc) (VerificationResult, error) {
	m.logger.Info("verifying volume", "volume", v.Label(), "bytes", v.SealedSize)

	sum, err := m.readMedium(ctx, v, progress)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return VerificationResult{}, cancelled(err)
		}
		m.logger.Error("reading medium failed", "volume", v.Label(), "error", err)
	}

	result := VerificationResult{
		At:    m.clock.Now(),
		Valid: err == nil && digest.Equal(sum, v.Hash),
	}
	v.AddVerification(result)
	if err := m.store.SaveVolume(v); err != nil {
		return result, fmt.Errorf("saving verification of %s: %w", v.Label(), err)
	}

	if result.Valid {
		m.logger.Info("volume verified", "volume", v.Label(), "hash", sum)
	} else {
		m.logger.Warn("volume failed verification", "volume", v.Label(), "expected", v.Hash, "actual", sum)
	}
	progress.emit(ProgressEvent{
		Stage:     StageVerified,
		Volume:    v.Label(),
		BytesDone: v.SealedSize,
		Valid:     result.Valid,
	})
	return result, nil
}

// readMedium hashes the volume stream from the medium, reading no more than
// the sealed size since some media pad past the end of the data.
func (m *MediaVerifier) readMedium(ctx context.Context, v *Volume, progress ProgressFunc) (string, error) {
	alg, err := digest.Parse(v.HashAlgorithm)
	if err != nil {
		return "", err
	}
	rc, err := m.device.OpenMedium(ctx, v)
	if err != nil {
		return "", fmt.Errorf("opening medium: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if v.SealedSize > 0 {
		r = io.LimitReader(rc, v.SealedSize)
	}

	stream, err := digest.NewStream(alg,
		digest.WithBufferSize(m.opts.BufferSize),
		digest.WithClock(m.clock.Now),
		digest.WithProgress(m.opts.ProgressInterval, func(dp digest.Progress) {
			progress.emit(ProgressEvent{
				Stage:      StageVerifying,
				Volume:     v.Label(),
				BytesDone:  dp.BytesDone,
				BytesTotal: v.SealedSize,
				Rate:       dp.Rate,
			})
		}),
	)
	if err != nil {
		return "", err
	}
	if _, err := stream.Copy(ctx, nil, r, v.SealedSize); err != nil {
		return "", err
	}
	return stream.Sum(), nil
}
