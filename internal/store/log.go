package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/syncd/internal/ir"
)

// Append writes batch as the next log entry and returns its position.
// The position is computed and the row inserted in one transaction, so a
// failed append leaves no trace and positions stay gapless.
func (s *Store) Append(ctx context.Context, batch ir.Batch, committedAt int64) (int64, error) {
	actions, err := ir.EncodeBatch(batch)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.Persistence("append: begin", err)
	}
	defer tx.Rollback()

	var position int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position), 0) + 1 FROM sync_history",
	).Scan(&position); err != nil {
		return 0, ir.Persistence("append: next position", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_history (position, committed_at, actions)
		VALUES (?, ?, ?)
	`, position, committedAt, string(actions)); err != nil {
		return 0, ir.Persistence("append: insert", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, ir.Persistence("append: commit", err)
	}

	return position, nil
}

// ReadRange returns log entries with from <= position <= to, ascending.
// Returns an empty slice (not nil) when nothing is in range.
func (s *Store) ReadRange(ctx context.Context, from, to int64) ([]ir.LogEntry, error) {
	from, to = ir.NormalizeRange(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, committed_at, actions
		FROM sync_history
		WHERE position >= ? AND position <= ?
		ORDER BY position ASC
	`, from, to)
	if err != nil {
		return nil, ir.Persistence("read range", err)
	}
	defer rows.Close()

	entries := []ir.LogEntry{}
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, ir.Persistence("read range: iterate", err)
	}

	return entries, nil
}

// MaxPosition returns the highest assigned position, or 0 for an empty log.
func (s *Store) MaxPosition(ctx context.Context) (int64, error) {
	var position int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position), 0) FROM sync_history",
	).Scan(&position); err != nil {
		return 0, ir.Persistence("max position", err)
	}
	return position, nil
}

func scanLogEntry(rows *sql.Rows) (ir.LogEntry, error) {
	var (
		entry   ir.LogEntry
		actions string
	)
	if err := rows.Scan(&entry.Position, &entry.CommittedAt, &actions); err != nil {
		return ir.LogEntry{}, ir.Persistence("scan log entry", err)
	}

	batch, err := ir.DecodeBatch([]byte(actions))
	if err != nil {
		return ir.LogEntry{}, fmt.Errorf("log entry %d: %w", entry.Position, err)
	}
	entry.Batch = batch

	return entry, nil
}
