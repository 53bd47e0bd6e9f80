// Package ir provides the foundational types shared by every syncd package.
//
// ir imports nothing internal. It holds:
//   - the opaque payload value (IRValue) and its canonical JSON encoding
//   - transactions, batches, log entries and materialized records
//   - the error taxonomy surfaced to callers of the sync engine
//
// Key design constraints:
//   - Durable encodings always use MarshalCanonical
//   - Positions start at 1; 0 means "nothing committed yet"
//   - Timestamps on records are logical: they come from the log entry, never
//     from the wall clock at replay time
//   - All JSON tags use snake_case and follow the client wire format
package ir
