// Package store provides SQLite-backed durable storage for syncd.
//
// A single database file holds both halves of the sync state:
//   - sync_history: the append-only transaction log, one row per batch
//   - model_data: the materialized current value of every live record
//   - sync_meta: bookkeeping, currently the materialized log position
//
// # Ordering
//
// Positions are assigned as MAX(position)+1 inside the append transaction, so
// the log is gapless and starts at 1. Every range query uses
// ORDER BY position ASC; listings use ORDER BY model_name, id COLLATE BINARY.
//
// # Encoding
//
// Batches and payloads are stored as RFC 8785 canonical JSON (ir.EncodeBatch,
// ir.EncodeValue), so a replayed store is byte-identical to the original.
//
// # Database Configuration
//
// WAL journal with synchronous=FULL, so a batch whose position was returned
// to a client is on disk. busy_timeout is 5 seconds.
//
// # Upgrading
//
// Open also accepts a file written by the original single-binary server,
// whose sync_history has an AUTOINCREMENT id and no committed_at. The log is
// copied into the positional table (id becomes position, committed_at 0) and
// marked fully materialized, since that server applied each batch in the
// same transaction that logged it.
package store
