package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/syncd/internal/ir"
)

// Upsert inserts or replaces the record with the given id.
// created_at is set on insert only; updated_at always becomes now.
func (s *Store) Upsert(ctx context.Context, id, entityType string, data ir.IRValue, now int64) error {
	return upsert(ctx, s.db, id, entityType, data, now)
}

// Delete removes the record. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	return deleteRecord(ctx, s.db, id)
}

// Get returns the current record for id.
func (s *Store) Get(ctx context.Context, id string) (ir.Record, bool, error) {
	var (
		rec  ir.Record
		data string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model_name, data, created_at, updated_at
		FROM model_data
		WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Type, &data, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, false, nil
	}
	if err != nil {
		return ir.Record{}, false, ir.Persistence("get record", err)
	}

	rec.Data, err = ir.DecodeValue([]byte(data))
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("record %q: %w", id, err)
	}
	return rec, true, nil
}

// ListAll returns every present record grouped by entity type.
// Within a group, models are ordered by id.
func (s *Store) ListAll(ctx context.Context) (ir.Models, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_name, id, data
		FROM model_data
		ORDER BY model_name COLLATE BINARY ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, ir.Persistence("list records", err)
	}
	defer rows.Close()

	models := ir.Models{}
	for rows.Next() {
		var entityType, id, data string
		if err := rows.Scan(&entityType, &id, &data); err != nil {
			return nil, ir.Persistence("scan record", err)
		}

		value, err := ir.DecodeValue([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", id, err)
		}
		models[entityType] = append(models[entityType], ir.Model{ID: id, Data: value})
	}

	if err := rows.Err(); err != nil {
		return nil, ir.Persistence("list records: iterate", err)
	}

	return models, nil
}

// ApplyBatch replays one log entry into the records table.
// All record changes and the new materialized position commit together.
// Positions at or below the materialized position are already applied and
// are skipped.
func (s *Store) ApplyBatch(ctx context.Context, position int64, batch ir.Batch, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Persistence("apply batch: begin", err)
	}
	defer tx.Rollback()

	materialized, err := materializedPosition(ctx, tx)
	if err != nil {
		return err
	}
	if position <= materialized {
		return nil
	}

	for i, t := range batch {
		switch {
		case t.Action.IsUpsert():
			err = upsert(ctx, tx, t.ID, t.Type, t.Data, now)
		case t.Action == ir.ActionDelete:
			err = deleteRecord(ctx, tx, t.ID)
		default:
			err = &ir.InvalidActionError{Action: string(t.Action), Index: i}
		}
		if err != nil {
			return fmt.Errorf("apply batch %d: %w", position, err)
		}
	}

	if err := setMaterialized(ctx, tx, position); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.Persistence("apply batch: commit", err)
	}
	return nil
}

// MaterializedPosition returns the highest log position applied to the
// records table, or 0 if nothing has been applied.
func (s *Store) MaterializedPosition(ctx context.Context) (int64, error) {
	return materializedPosition(ctx, s.db)
}

func materializedPosition(ctx context.Context, q execer) (int64, error) {
	var position int64
	err := q.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", metaMaterialized,
	).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, ir.Persistence("materialized position", err)
	}
	return position, nil
}

func setMaterialized(ctx context.Context, q execer, position int64) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaMaterialized, position); err != nil {
		return ir.Persistence("set materialized", err)
	}
	return nil
}

func upsert(ctx context.Context, q execer, id, entityType string, data ir.IRValue, now int64) error {
	payload, err := ir.EncodeValue(data)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", id, err)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO model_data (id, model_name, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model_name = excluded.model_name,
			data       = excluded.data,
			updated_at = excluded.updated_at
	`, id, entityType, string(payload), now, now); err != nil {
		return ir.Persistence("upsert", err)
	}
	return nil
}

func deleteRecord(ctx context.Context, q execer, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM model_data WHERE id = ?", id); err != nil {
		return ir.Persistence("delete", err)
	}
	return nil
}
