package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"arc-go/internal/arc"
	"arc-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteIndexStore implements the IndexStore interface using SQLite.
type SQLiteIndexStore struct {
	db    *sql.DB
	path  string
	clock arc.Clock
}

// NewSQLiteIndexStore opens the index at path and applies pending migrations.
// path can be a file path or ":memory:" for an in-memory index.
func NewSQLiteIndexStore(path string, opts ...Option) (*SQLiteIndexStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating index: %w", err)
	}
	o := applyOptions(opts)
	return &SQLiteIndexStore{db: db, path: path, clock: o.clock}, nil
}

// NewMemoryIndexStore creates an in-memory SQLite index.
func NewMemoryIndexStore(opts ...Option) (*SQLiteIndexStore, error) {
	return NewSQLiteIndexStore(":memory:", opts...)
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// PRAGMAs are per connection, and every connection to :memory: is its own
	// database, so the pool is held at one connection.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Volume operations

func (s *SQLiteIndexStore) LoadVolumes(set string) ([]*arc.Volume, error) {
	ctx := context.Background()

	rows, err := s.db.QueryContext(ctx, `
		SELECT number, kind, capacity, committed, copied_bytes, finalized,
		       created_at, finalized_at, hash, hash_algorithm, sealed_size
		FROM volumes WHERE set_name = ? ORDER BY number`, set)
	if err != nil {
		return nil, fmt.Errorf("loading volumes: %w", err)
	}
	defer rows.Close()

	var volumes []*arc.Volume
	for rows.Next() {
		v := &arc.Volume{Set: set}
		var kind string
		var finalizedAt sql.NullTime
		err := rows.Scan(&v.Number, &kind, &v.Capacity, &v.Committed, &v.CopiedBytes, &v.Finalized,
			&v.CreatedAt, &finalizedAt, &v.Hash, &v.HashAlgorithm, &v.SealedSize)
		if err != nil {
			return nil, fmt.Errorf("scanning volume: %w", err)
		}
		v.Kind = arc.MediumKind(kind)
		v.CreatedAt = v.CreatedAt.UTC()
		v.FinalizedAt = fromNull(finalizedAt)
		volumes = append(volumes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading volumes: %w", err)
	}
	rows.Close()

	for _, v := range volumes {
		if v.Files, err = s.loadFiles(ctx, v); err != nil {
			return nil, err
		}
		if v.Verifications, err = s.loadVerifications(ctx, v); err != nil {
			return nil, err
		}
		v.Link()
	}
	return volumes, nil
}

func (s *SQLiteIndexStore) loadFiles(ctx context.Context, v *arc.Volume) ([]*arc.SourceFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, root, size, hash, copied, archived_at, created_at, modified_at, accessed_at, attributes
		FROM volume_files WHERE set_name = ? AND volume_number = ? ORDER BY path`, v.Set, v.Number)
	if err != nil {
		return nil, fmt.Errorf("loading files of %s: %w", v.Label(), err)
	}
	defer rows.Close()

	var files []*arc.SourceFile
	for rows.Next() {
		f := &arc.SourceFile{}
		var archived, created, modified, accessed sql.NullTime
		err := rows.Scan(&f.RelativePath, &f.Root, &f.Size, &f.Hash, &f.Copied,
			&archived, &created, &modified, &accessed, &f.Attributes)
		if err != nil {
			return nil, fmt.Errorf("scanning file of %s: %w", v.Label(), err)
		}
		f.ArchivedAt = fromNull(archived)
		f.Times = arc.FileTimes{
			Created:  fromNull(created),
			Modified: fromNull(modified),
			Accessed: fromNull(accessed),
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteIndexStore) loadVerifications(ctx context.Context, v *arc.Volume) ([]arc.VerificationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verified_at, valid FROM verifications
		WHERE set_name = ? AND volume_number = ? ORDER BY id`, v.Set, v.Number)
	if err != nil {
		return nil, fmt.Errorf("loading verifications of %s: %w", v.Label(), err)
	}
	defer rows.Close()

	var results []arc.VerificationResult
	for rows.Next() {
		var r arc.VerificationResult
		if err := rows.Scan(&r.At, &r.Valid); err != nil {
			return nil, fmt.Errorf("scanning verification of %s: %w", v.Label(), err)
		}
		r.At = r.At.UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveVolume replaces every row of the volume in one transaction.
func (s *SQLiteIndexStore) SaveVolume(v *arc.Volume) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Files and verifications go with the volume row.
	if _, err := tx.ExecContext(ctx, "DELETE FROM volumes WHERE set_name = ? AND number = ?", v.Set, v.Number); err != nil {
		return fmt.Errorf("clearing %s: %w", v.Label(), err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO volumes (set_name, number, kind, capacity, committed, copied_bytes, finalized,
		                     created_at, finalized_at, hash, hash_algorithm, sealed_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Set, v.Number, string(v.Kind), v.Capacity, v.Committed, v.CopiedBytes, v.Finalized,
		v.CreatedAt.UTC(), toNull(v.FinalizedAt), v.Hash, v.HashAlgorithm, v.SealedSize)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", v.Label(), err)
	}

	fileStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO volume_files (set_name, volume_number, path, root, size, hash, copied,
		                          archived_at, created_at, modified_at, accessed_at, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing file insert: %w", err)
	}
	defer fileStmt.Close()

	for _, f := range v.Files {
		_, err := fileStmt.ExecContext(ctx, v.Set, v.Number, f.RelativePath, f.Root, f.Size, f.Hash, f.Copied,
			toNull(f.ArchivedAt), toNull(f.Times.Created), toNull(f.Times.Modified), toNull(f.Times.Accessed),
			f.Attributes)
		if err != nil {
			return fmt.Errorf("inserting file %s of %s: %w", f.RelativePath, v.Label(), err)
		}
	}

	for _, r := range v.Verifications {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO verifications (set_name, volume_number, verified_at, valid) VALUES (?, ?, ?, ?)",
			v.Set, v.Number, r.At.UTC(), r.Valid)
		if err != nil {
			return fmt.Errorf("inserting verification of %s: %w", v.Label(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteIndexStore) ListSets() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT set_name FROM volumes ORDER BY set_name")
	if err != nil {
		return nil, fmt.Errorf("listing media sets: %w", err)
	}
	defer rows.Close()

	var sets []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning media set: %w", err)
		}
		sets = append(sets, name)
	}
	return sets, rows.Err()
}

// Operation tracking

func (s *SQLiteIndexStore) CreateOperation(operation, parameters string) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)",
		operation, parameters, s.clock.Now().UTC(), arc.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

func (s *SQLiteIndexStore) FinishOperation(id int64, status string) error {
	res, err := s.db.Exec("UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		s.clock.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

func (s *SQLiteIndexStore) ListOperations(limit int) ([]*arc.OperationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*arc.OperationRecord
	for rows.Next() {
		op := &arc.OperationRecord{}
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt = op.StartedAt.UTC()
		op.FinishedAt = fromNull(finished)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Path returns the database file path (or ":memory:" for in-memory indexes).
func (s *SQLiteIndexStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteIndexStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteIndexStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func toNull(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNull(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// Compile-time check that SQLiteIndexStore implements arc.IndexStore interface
var _ arc.IndexStore = (*SQLiteIndexStore)(nil)
