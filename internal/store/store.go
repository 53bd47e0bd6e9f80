package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/syncd/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions, kept in PRAGMA user_version:
//
//	0 - fresh file, or a database written by the original single-binary server
//	    (sync_history keyed by id, no committed_at, no sync_meta)
//	1 - positional log with committed_at, sync_meta, bootstrap listing index
const schemaVersion = 1

const metaMaterialized = "materialized"

// Store provides durable storage for the transaction log and the payload store.
type Store struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens the database at path and brings its schema up to
// date. A database written by a newer syncd is refused.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and the pragmas below are
	// per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		// an acknowledged sync_id must survive power loss
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	legacy, err := hasLegacyLog(ctx, tx)
	if err != nil {
		return err
	}
	if legacy {
		if _, err := tx.ExecContext(ctx, "ALTER TABLE sync_history RENAME TO sync_history_legacy"); err != nil {
			return fmt.Errorf("rename legacy log: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if legacy {
		if err := adoptLegacyLog(ctx, tx); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// hasLegacyLog reports whether sync_history exists without a position column.
func hasLegacyLog(ctx context.Context, tx *sql.Tx) (bool, error) {
	var tables, positional int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sync_history'",
	).Scan(&tables)
	if err != nil || tables == 0 {
		return false, err
	}
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info('sync_history') WHERE name = 'position'",
	).Scan(&positional)
	return positional == 0, err
}

// adoptLegacyLog copies the original server's log into the positional table.
// Ids become positions and batches are re-encoded canonically. That server
// applied every batch in the same transaction as its log row, so model_data
// already reflects the whole log and is marked materialized.
func adoptLegacyLog(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "SELECT id, actions FROM sync_history_legacy ORDER BY id")
	if err != nil {
		return fmt.Errorf("read legacy log: %w", err)
	}

	type legacyEntry struct {
		position int64
		actions  []byte
	}
	var entries []legacyEntry
	for rows.Next() {
		var (
			position int64
			raw      string
		)
		if err := rows.Scan(&position, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("scan legacy log: %w", err)
		}
		batch, err := ir.DecodeBatch([]byte(raw))
		if err != nil {
			rows.Close()
			return fmt.Errorf("legacy log entry %d: %w", position, err)
		}
		actions, err := ir.EncodeBatch(batch)
		if err != nil {
			rows.Close()
			return fmt.Errorf("legacy log entry %d: %w", position, err)
		}
		entries = append(entries, legacyEntry{position: position, actions: actions})
	}
	if err := rows.Close(); err != nil {
		return err
	}

	var last int64
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sync_history (position, committed_at, actions) VALUES (?, 0, ?)",
			e.position, string(e.actions),
		); err != nil {
			return fmt.Errorf("copy legacy log entry %d: %w", e.position, err)
		}
		last = e.position
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE sync_history_legacy"); err != nil {
		return fmt.Errorf("drop legacy log: %w", err)
	}
	return setMaterialized(ctx, tx, last)
}
