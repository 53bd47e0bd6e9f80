package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/syncd/internal/ir"
	"github.com/roach88/syncd/internal/memstore"
)

// maxMismatchDetails bounds ReplayMismatchError.Details.
const maxMismatchDetails = 10

// VerifyResult summarizes a successful replay verification.
type VerifyResult struct {
	Position int64  `json:"position"` // last log position replayed
	Entries  int    `json:"entries"`
	Records  int    `json:"records"`
	Digest   string `json:"digest"`
}

// VerifyReplay rebuilds the log up to the store's materialized position into
// a fresh in-memory store and compares it with store. Equal digests mean
// replay is deterministic for this log; a difference returns
// *ReplayMismatchError naming the differing record ids.
//
// It takes no lock; callers holding an Engine should use Engine.Verify.
func VerifyReplay(ctx context.Context, log TransactionLog, store PayloadStore) (VerifyResult, error) {
	position, err := store.MaterializedPosition(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", ir.Persistence("materialized position", err))
	}

	scratch := memstore.New()
	defer scratch.Close()

	entries := []ir.LogEntry{}
	if position > 0 {
		entries, err = log.ReadRange(ctx, 1, position)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("verify: %w", ir.Persistence("read range", err))
		}
	}
	for _, entry := range entries {
		if err := scratch.ApplyBatch(ctx, entry.Position, entry.Batch, entry.CommittedAt); err != nil {
			return VerifyResult{}, fmt.Errorf("verify: replay entry %d: %w", entry.Position, err)
		}
	}

	rebuilt, err := scratch.ListAll(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	live, err := store.ListAll(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", ir.Persistence("list records", err))
	}

	expected, err := ir.Digest(rebuilt)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	actual, err := ir.Digest(live)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}

	if expected != actual {
		return VerifyResult{}, &ReplayMismatchError{
			Position: position,
			Expected: expected,
			Actual:   actual,
			Details:  diffModels(rebuilt, live),
		}
	}

	records := 0
	for _, group := range live {
		records += len(group)
	}
	return VerifyResult{
		Position: position,
		Entries:  len(entries),
		Records:  records,
		Digest:   actual,
	}, nil
}

// Verify runs VerifyReplay on the engine's own log and store under the lock.
func (e *Engine) Verify(ctx context.Context) (VerifyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return VerifyReplay(context.WithoutCancel(ctx), e.log, e.store)
}

// diffModels returns sorted "type/id" keys whose presence or payload differ.
func diffModels(a, b ir.Models) []string {
	index := func(m ir.Models) map[string]string {
		out := make(map[string]string)
		for typ, group := range m {
			for _, model := range group {
				enc, err := ir.MarshalCanonical(model.Data)
				if err != nil {
					enc = []byte(err.Error())
				}
				out[typ+"/"+model.ID] = string(enc)
			}
		}
		return out
	}

	ia, ib := index(a), index(b)
	var diff []string
	for k, va := range ia {
		if vb, ok := ib[k]; !ok || va != vb {
			diff = append(diff, k)
		}
	}
	for k := range ib {
		if _, ok := ia[k]; !ok {
			diff = append(diff, k)
		}
	}

	slices.Sort(diff)
	if len(diff) > maxMismatchDetails {
		diff = diff[:maxMismatchDetails]
	}
	return diff
}
