package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens the history database at dbPath, creating it when needed.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStore, "create history directory").
				WithContext("path", dbPath).
				Build()
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ErrDatabaseOpenFailed.WithContext("path", dbPath).WithContext("cause", err.Error())
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "initialize history schema").Build()
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		files INTEGER NOT NULL,
		units INTEGER NOT NULL,
		cache_hits INTEGER NOT NULL,
		signature TEXT,
		source_commit TEXT,
		manifest_hash TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_builds_started_at ON builds(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a finished build.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (id, started_at, duration_ms, status, triggered_by, files, units, cache_hits, signature, source_commit, manifest_hash, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(), string(rec.Status), string(rec.Trigger),
		rec.Files, rec.Units, rec.CacheHits, rec.Signature, rec.SourceCommit, rec.ManifestHash, rec.Error,
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "insert build record").WithContext("id", rec.ID).Build()
	}
	return nil
}

const selectColumns = "SELECT id, started_at, duration_ms, status, triggered_by, files, units, cache_hits, signature, source_commit, manifest_hash, error FROM builds"

// Get retrieves one build by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE id = ?", id)
	if err != nil {
		return Record{}, fmt.Errorf("query build: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrRecordNotFound.WithContext("id", id)
	}
	return recs[0], nil
}

// Recent returns up to limit builds, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Prune deletes builds started before the given time.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM builds WHERE started_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune builds: %w", err)
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r                                    Record
			startedMS, durationMS                int64
			status, trigger                      string
			signature, commit, manifestHash, msg sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedMS, &durationMS, &status, &trigger, &r.Files, &r.Units, &r.CacheHits,
			&signature, &commit, &manifestHash, &msg); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMS).UTC()
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Status = Status(status)
		r.Trigger = Trigger(trigger)
		r.Signature = signature.String
		r.SourceCommit = commit.String
		r.ManifestHash = manifestHash.String
		r.Error = msg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// IsNotFound reports whether err means the build does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || ferrors.HasCategory(err, ferrors.CategoryNotFound)
}
