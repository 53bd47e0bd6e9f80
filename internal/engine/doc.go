// Package engine implements the syncd sync engine.
//
// The engine is the only component callers talk to. It owns a TransactionLog
// and a PayloadStore and keeps them consistent:
//
//	Ingest:     validate -> log.Append -> store.ApplyBatch
//	FetchRange: log.ReadRange, flattened
//	Bootstrap:  (horizon, store.ListAll) as one snapshot
//
// CONCURRENCY:
//
// A single mutex guards every log and store access. At most one Ingest,
// FetchRange, Bootstrap, Recover or Status runs its storage operations at a
// time, so no caller ever observes a batch half applied. Once the lock is
// held the operation runs to completion on a context detached from the
// caller's cancellation; a cancelled caller just discards the result.
//
// DETERMINISM:
//
// Every batch is stamped once with CommittedAt from the engine Clock, and that
// value is stored in the log entry. Replay (Recover, VerifyReplay) uses the
// stored CommittedAt as the record timestamp, so rebuilding the store from the
// log reproduces created_at and updated_at exactly.
//
// RECOVERY:
//
// The log commit and the store replay are separate writes. If the replay
// fails the position is still returned (the intent is durable) and the store
// lags behind the log. The store's materialized position makes the gap
// visible; Recover replays the missing entries in order.
package engine
