package sqlite

import (
	"context"
	"time"

	"github.com/relves/graphlog/internal/storage"
)

// Ensure Store implements Backend at compile time.
var _ storage.Backend = (*Store)(nil)

// Append inserts lines in one transaction; either all become durable or none.
func (s *Store) Append(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (line, appended_at) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, line := range lines {
		if _, err := stmt.ExecContext(ctx, line, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load returns all lines ordered by insertion sequence.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM entries ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return lines, rows.Err()
}
