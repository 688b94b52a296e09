package duckdb

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

// InsertSampleBatch appends rows in a single transaction. If the batch
// fails, rows are retried one by one and the ones that still fail are
// dropped.
func (s *Store) InsertSampleBatch(rows []*model.SampleRow) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, rows)
	if err == nil {
		return nil
	}

	var failed int
	for _, r := range rows {
		if rerr := s.insertBatchTx(ctx, []*model.SampleRow{r}); rerr != nil {
			failed++
			log.Printf("duckdb: dropping sample (record=%d ts=%s): %v", r.RecordID, r.Timestamp.Format(time.RFC3339), rerr)
		}
	}
	if failed > 0 {
		log.Printf("duckdb: batch partially failed, %d/%d samples dropped", failed, len(rows))
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, rows []*model.SampleRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (record_id, ts, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.RecordID, r.Timestamp.UTC(), r.Value); err != nil {
			return fmt.Errorf("sample insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// RecentSamples returns up to limit samples of the record at path,
// newest first.
func (s *Store) RecentSamples(path string, limit int) ([]model.SampleRow, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.record_id, s.ts, s.value
		FROM samples s JOIN records r ON r.id = s.record_id
		WHERE r.path = ?
		ORDER BY s.ts DESC
		LIMIT ?`, path, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SampleRow
	for rows.Next() {
		var r model.SampleRow
		if err := rows.Scan(&r.RecordID, &r.Timestamp, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SampleCount returns the number of stored samples.
func (s *Store) SampleCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n)
	return n, err
}

// DeleteBefore removes samples older than cutoff and returns how many
// were deleted.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("duckdb: prune: %w", err)
	}
	return res.RowsAffected()
}
