// Package migrate applies the embedded schema migrations for the sample
// store.
package migrate

import (
	"cmp"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// versionTable records which migrations have been applied.
const versionTable = "anystat_schema"

type migration struct {
	version int
	name    string
	sql     string
}

// Runner applies NNN_name.sql migrations in version order.
type Runner struct{ db *sql.DB }

// NewRunner creates a runner for db.
func NewRunner(db *sql.DB) *Runner { return &Runner{db: db} }

// Run applies every pending migration, each in its own transaction, and
// returns the names applied.
func (r *Runner) Run() ([]string, error) {
	todo, err := r.pending()
	if err != nil {
		return nil, err
	}
	var done []string
	for _, m := range todo {
		if err := r.apply(m); err != nil {
			return done, err
		}
		done = append(done, m.name)
	}
	return done, nil
}

// Pending returns the names of migrations not yet applied.
func (r *Runner) Pending() ([]string, error) {
	todo, err := r.pending()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(todo))
	for i, m := range todo {
		names[i] = m.name
	}
	return names, nil
}

func (r *Runner) pending() ([]migration, error) {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS ` + versionTable + ` (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`); err != nil {
		return nil, fmt.Errorf("migrate: create %s: %w", versionTable, err)
	}

	var current sql.NullInt64
	if err := r.db.QueryRow(`SELECT MAX(version) FROM ` + versionTable).Scan(&current); err != nil {
		return nil, fmt.Errorf("migrate: read version: %w", err)
	}

	all, err := load()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m migration) bool {
		return current.Valid && int64(m.version) <= current.Int64
	}), nil
}

func (r *Runner) apply(m migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin %s: %w", m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("migrate: exec %s: %w", m.name, err)
	}
	if _, err := tx.Exec(`INSERT INTO `+versionTable+` (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return fmt.Errorf("migrate: record %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %s: %w", m.name, err)
	}
	return nil
}

// load reads the embedded files, ignoring anything not named NNN_*.sql.
func load() ([]migration, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: read embedded: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if e.IsDir() || !ok || path.Ext(name) != ".sql" {
			continue
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migrate: bad version in %s: %w", name, err)
		}
		data, err := migrations.ReadFile(path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		out = append(out, migration{version: ver, name: name, sql: string(data)})
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}
