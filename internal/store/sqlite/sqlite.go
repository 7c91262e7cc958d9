// Package sqlite is the concrete store.Store adapter backed by
// mattn/go-sqlite3, per spec.md §6 "Store layout":
// hab-auto-build.sqlite holding artifact_contexts, source_contexts,
// file_modifications and build_times. It is never imported by core
// packages directly (internal/store's Store interface is), matching
// spec.md §9 "treat the shell as a replaceable adapter" applied to
// persistence as well.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/store"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifact_contexts (
	hash TEXT PRIMARY KEY,
	context BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS source_contexts (
	hash TEXT PRIMARY KEY,
	context BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS file_modifications (
	plan_context_path TEXT NOT NULL,
	file_path TEXT NOT NULL,
	real_modified_at TEXT NOT NULL,
	alternate_modified_at TEXT NOT NULL,
	PRIMARY KEY (plan_context_path, file_path, real_modified_at)
);
CREATE TABLE IF NOT EXISTS build_times (
	build_ident TEXT PRIMARY KEY,
	duration_in_secs REAL NOT NULL
);
`

// Store is a store.Store backed by a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path and ensures its
// schema exists. Every artifact insert runs inside an immediate
// transaction per spec.md §5 "inserts run inside an immediate
// transaction per artifact", enforced by the _txlock=immediate connection
// option, which makes every BeginTx issue BEGIN IMMEDIATE.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, xerrors.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, xerrors.Errorf("creating schema in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetArtifactContext(ctx context.Context, hash string) (*artifact.Context, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT context FROM artifact_contexts WHERE hash = ?`, hash).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Errorf("reading artifact context %s: %w", hash, err)
	}
	var ac artifact.Context
	if err := json.Unmarshal(blob, &ac); err != nil {
		return nil, false, xerrors.Errorf("decoding artifact context %s: %w", hash, err)
	}
	ac.Dirty = false
	return &ac, true, nil
}

func (s *Store) PutArtifactContext(ctx context.Context, hash string, ac *artifact.Context) error {
	blob, err := json.Marshal(ac)
	if err != nil {
		return xerrors.Errorf("encoding artifact context %s: %w", hash, err)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return xerrors.Errorf("beginning transaction for %s: %w", hash, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO artifact_contexts (hash, context) VALUES (?, ?)`, hash, blob); err != nil {
		return xerrors.Errorf("persisting artifact context %s: %w", hash, err)
	}
	return tx.Commit()
}

func (s *Store) GetSourceContext(ctx context.Context, sha256 string) (*store.SourceContext, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT context FROM source_contexts WHERE hash = ?`, sha256).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Errorf("reading source context %s: %w", sha256, err)
	}
	var sc store.SourceContext
	if err := json.Unmarshal(blob, &sc); err != nil {
		return nil, false, xerrors.Errorf("decoding source context %s: %w", sha256, err)
	}
	return &sc, true, nil
}

func (s *Store) PutSourceContext(ctx context.Context, sc *store.SourceContext) error {
	blob, err := json.Marshal(sc)
	if err != nil {
		return xerrors.Errorf("encoding source context %s: %w", sc.SHA256, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO source_contexts (hash, context) VALUES (?, ?)`, sc.SHA256, blob)
	if err != nil {
		return xerrors.Errorf("persisting source context %s: %w", sc.SHA256, err)
	}
	return nil
}

func (s *Store) GetFileModification(ctx context.Context, planContextPath, filePath string, realModifiedAt time.Time) (time.Time, bool, error) {
	var alt string
	err := s.db.QueryRowContext(ctx,
		`SELECT alternate_modified_at FROM file_modifications WHERE plan_context_path = ? AND file_path = ? AND real_modified_at = ?`,
		planContextPath, filePath, realModifiedAt.UTC().Format(time.RFC3339Nano)).Scan(&alt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, xerrors.Errorf("reading file modification for %s: %w", filePath, err)
	}
	t, err := time.Parse(time.RFC3339Nano, alt)
	if err != nil {
		return time.Time{}, false, xerrors.Errorf("parsing stored mtime for %s: %w", filePath, err)
	}
	return t, true, nil
}

func (s *Store) PutFileModification(ctx context.Context, m store.FileModification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO file_modifications (plan_context_path, file_path, real_modified_at, alternate_modified_at) VALUES (?, ?, ?, ?)`,
		m.PlanContextPath, m.FilePath, m.RealModifiedAt.UTC().Format(time.RFC3339Nano), m.AlternateModifiedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return xerrors.Errorf("persisting file modification for %s: %w", m.FilePath, err)
	}
	return nil
}

func (s *Store) GetBuildDuration(ctx context.Context, buildIdent string) (time.Duration, bool, error) {
	var secs float64
	err := s.db.QueryRowContext(ctx, `SELECT duration_in_secs FROM build_times WHERE build_ident = ?`, buildIdent).Scan(&secs)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, xerrors.Errorf("reading build duration for %s: %w", buildIdent, err)
	}
	return time.Duration(secs * float64(time.Second)), true, nil
}

func (s *Store) PutBuildDuration(ctx context.Context, buildIdent string, d time.Duration) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO build_times (build_ident, duration_in_secs) VALUES (?, ?)`, buildIdent, d.Seconds())
	if err != nil {
		return xerrors.Errorf("persisting build duration for %s: %w", buildIdent, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
