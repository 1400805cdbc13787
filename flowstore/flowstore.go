// Package flowstore persists flow definitions and their versions outside
// the session-critical path (spec.md §6 "list/get/create/update/delete/
// publish/version/validate flow"; SPEC_FULL.md §12). It is backed by
// SQLite the way the teacher's sqlitevec backend persists vectors
// out-of-band from the run-critical path: a pure-Go driver, no migrations
// framework, schema created on open.
package flowstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/validate"
)

var (
	// ErrNotFound indicates no flow (or no such version) exists under the
	// requested name.
	ErrNotFound = errors.New("flowstore: not found")
)

type (
	// Record is one persisted flow version.
	Record struct {
		Name        string
		Version     int
		Config      flow.Config
		Published   bool
		CreatedAt   time.Time
		PublishedAt *time.Time
	}

	// Store persists flow definitions and their version history in SQLite.
	Store struct {
		db *sql.DB
	}
)

// Open creates or attaches to the SQLite database at path (":memory:" is
// valid for tests/demo use) and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("flowstore: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_versions (
			name         TEXT NOT NULL,
			version      INTEGER NOT NULL,
			definition   TEXT NOT NULL,
			published    INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL,
			published_at DATETIME,
			PRIMARY KEY (name, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("flowstore: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Validate runs cfg through the validate package without persisting
// anything, for the §6 "validate flow" operation.
func Validate(cfg flow.Config) (validate.Result, error) {
	return validate.Validate(cfg)
}

// Create stores the first version (1) of a new flow named cfg.Meta.Name.
// Returns an error if a flow with that name already exists.
func (s *Store) Create(ctx context.Context, cfg flow.Config) (Record, error) {
	if _, err := validate.Validate(cfg); err != nil {
		return Record{}, err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flow_versions WHERE name = ?`, cfg.Meta.Name).Scan(&exists); err != nil {
		return Record{}, fmt.Errorf("flowstore: check existing: %w", err)
	}
	if exists > 0 {
		return Record{}, fmt.Errorf("flowstore: flow %q already exists", cfg.Meta.Name)
	}
	return s.insertVersion(ctx, cfg, 1)
}

// Update persists a new version of an existing flow, incrementing the
// highest known version number. It does not affect which version is
// currently published.
func (s *Store) Update(ctx context.Context, name string, cfg flow.Config) (Record, error) {
	if _, err := validate.Validate(cfg); err != nil {
		return Record{}, err
	}
	latest, err := s.latestVersion(ctx, name)
	if err != nil {
		return Record{}, err
	}
	cfg.Meta.Name = name
	return s.insertVersion(ctx, cfg, latest+1)
}

func (s *Store) insertVersion(ctx context.Context, cfg flow.Config, version int) (Record, error) {
	def, err := yaml.Marshal(cfg)
	if err != nil {
		return Record{}, fmt.Errorf("flowstore: marshal definition: %w", err)
	}
	now := timeNow()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_versions (name, version, definition, published, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, cfg.Meta.Name, version, string(def), now)
	if err != nil {
		return Record{}, fmt.Errorf("flowstore: insert version: %w", err)
	}
	return Record{Name: cfg.Meta.Name, Version: version, Config: cfg, CreatedAt: now}, nil
}

func (s *Store) latestVersion(ctx context.Context, name string) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM flow_versions WHERE name = ?`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("flowstore: latest version: %w", err)
	}
	if !v.Valid {
		return 0, ErrNotFound
	}
	return int(v.Int64), nil
}

// Get returns a specific version of a flow, or the currently published
// version if version is 0.
func (s *Store) Get(ctx context.Context, name string, version int) (Record, error) {
	var (
		row          *sql.Row
		resolvedVers int
	)
	if version > 0 {
		resolvedVers = version
		row = s.db.QueryRowContext(ctx, `
			SELECT version, definition, published, created_at, published_at
			FROM flow_versions WHERE name = ? AND version = ?
		`, name, version)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT version, definition, published, created_at, published_at
			FROM flow_versions WHERE name = ? AND published = 1
		`, name)
	}
	return scanRecord(name, row, resolvedVers)
}

func scanRecord(name string, row *sql.Row, _ int) (Record, error) {
	var (
		version     int
		definition  string
		published   int
		createdAt   time.Time
		publishedAt sql.NullTime
	)
	if err := row.Scan(&version, &definition, &published, &createdAt, &publishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("flowstore: scan: %w", err)
	}
	var cfg flow.Config
	if err := yaml.Unmarshal([]byte(definition), &cfg); err != nil {
		return Record{}, fmt.Errorf("flowstore: unmarshal definition: %w", err)
	}
	rec := Record{Name: name, Version: version, Config: cfg, Published: published == 1, CreatedAt: createdAt}
	if publishedAt.Valid {
		t := publishedAt.Time
		rec.PublishedAt = &t
	}
	return rec, nil
}

// ListVersions returns every version recorded for name, oldest first.
func (s *Store) ListVersions(ctx context.Context, name string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, definition, published, created_at, published_at
		FROM flow_versions WHERE name = ? ORDER BY version ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("flowstore: list versions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			version     int
			definition  string
			published   int
			createdAt   time.Time
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&version, &definition, &published, &createdAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("flowstore: scan version row: %w", err)
		}
		var cfg flow.Config
		if err := yaml.Unmarshal([]byte(definition), &cfg); err != nil {
			return nil, fmt.Errorf("flowstore: unmarshal version row: %w", err)
		}
		rec := Record{Name: name, Version: version, Config: cfg, Published: published == 1, CreatedAt: createdAt}
		if publishedAt.Valid {
			t := publishedAt.Time
			rec.PublishedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// List returns the currently published (or, absent one, the latest) record
// for every distinct flow name known to the store.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM flow_versions ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("flowstore: list: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("flowstore: scan name: %w", err)
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := s.Get(ctx, name, 0)
		if errors.Is(err, ErrNotFound) {
			versions, err := s.ListVersions(ctx, name)
			if err != nil {
				return nil, err
			}
			if len(versions) == 0 {
				continue
			}
			rec = versions[len(versions)-1]
		} else if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Publish marks version as the one new sessions bind to, unpublishing any
// previously published version of the same flow.
func (s *Store) Publish(ctx context.Context, name string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("flowstore: begin publish: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE flow_versions SET published = 0, published_at = NULL WHERE name = ?`, name); err != nil {
		return fmt.Errorf("flowstore: unpublish: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE flow_versions SET published = 1, published_at = ? WHERE name = ? AND version = ?`, timeNow(), name, version)
	if err != nil {
		return fmt.Errorf("flowstore: publish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("flowstore: publish rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Delete removes every version of the named flow.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flow_versions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("flowstore: delete: %w", err)
	}
	return nil
}

// LoadFlow implements orchestrator.FlowProvider: version 0 resolves to the
// currently published version.
func (s *Store) LoadFlow(ctx context.Context, name string, version int) (flow.Config, error) {
	rec, err := s.Get(ctx, name, version)
	if err != nil {
		return flow.Config{}, err
	}
	return rec.Config, nil
}

// timeNow is isolated so tests can observe deterministic created_at/
// published_at values if ever needed.
var timeNow = time.Now
