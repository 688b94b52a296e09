package duckdb

import (
	"fmt"

	"github.com/tinytelemetry/anystat/internal/model"
)

// RegisterRecord returns the id of the record at info.Path, inserting it
// on first sight. Ids are stable across restarts.
func (s *Store) RegisterRecord(info model.RecordInfo) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO records (path, name, parent, kind, mode) VALUES (?, ?, ?, ?, ?) ON CONFLICT (path) DO NOTHING`,
		info.Path, info.Name, info.Parent, info.Kind.String(), info.Mode.String(),
	); err != nil {
		return 0, fmt.Errorf("duckdb: register %s: %w", info.Path, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM records WHERE path = ?`, info.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("duckdb: lookup %s: %w", info.Path, err)
	}
	return id, nil
}

// Records lists every registered record ordered by path.
func (s *Store) Records() ([]model.StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, name, parent, kind, mode, created_at FROM records ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StoredRecord
	for rows.Next() {
		var r model.StoredRecord
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &r.Parent, &r.Kind, &r.Mode, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
