package harness

import (
	"github.com/roach88/syncd/internal/ir"
)

// Trace event operations.
const (
	OpIngest = "ingest"
	OpFetch  = "fetch"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq int    `json:"seq"` // step index, from 0
	Op  string `json:"op"`

	// ingest
	Batch ir.Batch `json:"batch,omitempty"`
	Error string   `json:"error,omitempty"` // rejection kind, empty when accepted

	// fetch
	From         int64            `json:"from,omitempty"`
	To           *int64           `json:"to,omitempty"` // nil when open ended
	Transactions []ir.Transaction `json:"transactions,omitempty"`

	// position returned by ingest, horizon returned by fetch
	SyncID int64 `json:"sync_id"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and the final expect block matched.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Horizon and Models are the bootstrap taken after the last step.
	Horizon int64     `json:"horizon"`
	Models  ir.Models `json:"models"`
	Digest  string    `json:"digest"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Models: ir.Models{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
