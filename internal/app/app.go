package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"arc-go/internal/arc"
	"arc-go/internal/config"
	"arc-go/internal/database"
	"arc-go/internal/device"
	"arc-go/internal/digest"
	"arc-go/internal/encryption"
	"arc-go/internal/fs"
)

// Options selects what an ArcApp is built for.
type Options struct {
	// Operation names the CLI command being run (e.g. "archive", "verify").
	Operation string
	// Parameters are recorded with the operation when it is persisted.
	Parameters string
	// Set is the media set to work on; empty means the first configured one.
	Set string
	// Verbose also sends debug and info log lines to stderr.
	Verbose bool
}

// ArcApp is the application layer between the CLI and ArcService.
// It constructs all dependencies from config, exposes the commands, records
// mutating commands as operations, and on Close finishes the operation and
// writes an encrypted index snapshot.
type ArcApp struct {
	cfg       *config.Config
	set       *config.MediaConfig
	store     arc.IndexStore
	device    arc.Device
	fsmgr     arc.FilesystemManager
	encryptor arc.Encryptor
	service   *arc.ArcService
	op        *Operation
	opID      string
	logger    *slog.Logger
	logFile   *os.File
}

// migrationChecker is implemented by index stores with a versioned schema.
type migrationChecker interface {
	CheckMigrations() error
}

// NewArcApp creates a fully wired ArcApp from the given config.
// The caller must call Close when done.
func NewArcApp(ctx context.Context, cfg *config.Config, opts Options) (*ArcApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	set, err := cfg.MediaSet(opts.Set)
	if err != nil {
		return nil, err
	}
	alg, err := digest.Parse(cfg.Archive.Digest)
	if err != nil {
		return nil, err
	}

	dev, err := device.NewDeviceFromConfig(ctx, *set)
	if err != nil {
		return nil, fmt.Errorf("creating device: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	excluder, err := newExcluder(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating exclusion rules: %w", err)
	}

	clock := arc.RealClock{}
	store, err := database.NewIndexStoreFromConfig(cfg.Index, cfg.HostID, database.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	if mc, ok := store.(migrationChecker); ok {
		if err := mc.CheckMigrations(); err != nil {
			store.Close()
			return nil, fmt.Errorf("index schema out of date: %w", err)
		}
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, opts.Verbose)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	var reports arc.ReportSink
	if cfg.Index.Dir != "" {
		reports = fs.NewReportDir(filepath.Join(cfg.Index.Dir, "reports"))
	}

	fsmgr := fs.NewOSFilesystemManager()
	svc := arc.NewArcService(store, fsmgr, arc.MediaSet{
		Name:     set.Name,
		Capacity: int64(set.Capacity),
		Reserved: int64(set.Reserved),
		Device:   dev,
	}, arc.Options{
		Sources:            cfg.Archive.Sources,
		Excluder:           excluder,
		CheckpointInterval: cfg.Archive.CheckpointInterval.Duration,
		PollInterval:       cfg.Verify.PollInterval.Duration,
		Freshness:          cfg.Verify.Freshness.Duration,
		Digest:             alg,
		PreserveTimes:      cfg.Archive.PreserveTimes,
		DetectRenames:      cfg.Archive.DetectRenames,
		BufferSize:         int(cfg.Archive.BufferSize),
		ProgressInterval:   cfg.Archive.ProgressInterval.Duration,
		SizerWorkers:       cfg.Archive.SizerWorkers,
		Reports:            reports,
	}, &slogAdapter{l: logger.With("set", set.Name)}, clock)

	return &ArcApp{
		cfg:       cfg,
		set:       set,
		store:     store,
		device:    dev,
		fsmgr:     fsmgr,
		encryptor: enc,
		service:   svc,
		op:        NewOperation(opts.Operation, opts.Parameters),
		opID:      opID,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// newExcluder builds the exclusion rules from config plus the ignore file at
// the top of every source root.
func newExcluder(cfg config.ArchiveConfig) (*fs.ExclusionMatcher, error) {
	patterns := append([]string{}, cfg.Ignore...)
	for _, src := range cfg.Sources {
		extra, err := fs.ParseIgnoreFile(filepath.Join(src, fs.IgnoreFileName))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}
	return fs.NewExclusionMatcher(cfg.ExcludePaths, cfg.ExcludeSuffixes, patterns)
}

// MediaSet returns the name of the media set the app works on.
func (a *ArcApp) MediaSet() string {
	return a.set.Name
}

// OperationID returns the identifier stamped on every log line of this run.
func (a *ArcApp) OperationID() string {
	return a.opID
}

// persistOperation saves the operation to the index, giving it an ID.
// This should only be called for index-mutating commands.
func (a *ArcApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	id, err := a.store.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// Plan scans the sources and allocates new files without writing anything.
func (a *ArcApp) Plan(ctx context.Context, progress arc.ProgressFunc) (*arc.Plan, error) {
	plan, err := a.service.Plan(ctx, progress)
	a.op.Record(err)
	return plan, err
}

// Archive writes every volume of plan.
func (a *ArcApp) Archive(ctx context.Context, plan *arc.Plan, progress arc.ProgressFunc) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	err := a.service.Archive(ctx, plan, progress)
	a.op.Record(err)
	return err
}

// Verify verifies finalized volumes; all of them when numbers is empty.
func (a *ArcApp) Verify(ctx context.Context, numbers []int, force bool, progress arc.ProgressFunc) ([]arc.VerifyOutcome, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	outcomes, err := a.service.Verify(ctx, numbers, force, progress)
	a.op.Record(err)
	return outcomes, err
}

// Summary returns one row per volume of the media set.
func (a *ArcApp) Summary() ([]*arc.VolumeSummary, error) {
	return a.service.Summary()
}

// Search returns indexed files whose path contains term.
func (a *ArcApp) Search(term string) ([]*arc.SourceFile, error) {
	return a.service.Search(term)
}

// History returns the most recent operations.
func (a *ArcApp) History(limit int) ([]*arc.OperationRecord, error) {
	return a.service.History(limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record and, when an
// export directory is configured, writes an encrypted index snapshot.
// For non-persisted operations: just closes the index.
func (a *ArcApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.store.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}

		if a.cfg.Export.Dir != "" {
			if err := a.autoExport(); err != nil {
				a.logger.Error("index snapshot failed", "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing index: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// autoExport writes <export dir>/<host>-<opID>.arcidx. Without keys there is
// nothing to encrypt to, so the snapshot is skipped with a warning.
func (a *ArcApp) autoExport() error {
	if !a.encryptor.IsConfigured() {
		a.logger.Warn("no encryption keys configured, skipping index snapshot", "hint", "run `arc config keys`")
		return nil
	}
	path := filepath.Join(a.cfg.Export.Dir, snapshotName(a.cfg.HostID, a.opID))
	if err := a.ExportIndex(path); err != nil {
		return err
	}
	a.logger.Info("index snapshot written", "path", path)
	return nil
}

// FormatVolumes formats volume numbers as an operation parameter.
func FormatVolumes(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
