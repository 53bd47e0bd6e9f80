package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/syncd/internal/ir"
)

// Snapshot returns the canonical JSON of a run: every trace event plus the
// final bootstrap. Equal runs produce equal bytes.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make(ir.IRArray, len(result.Trace))
	for i, event := range result.Trace {
		trace[i] = eventValue(event)
	}

	snapshot := ir.IRObject{
		"scenario": ir.IRString(scenarioName),
		"trace":    trace,
		"final": ir.IRObject{
			"horizon": ir.IRInt(result.Horizon),
			"digest":  ir.IRString(result.Digest),
			"models":  modelsValue(result.Models),
		},
	}
	return ir.MarshalCanonical(snapshot)
}

func eventValue(event TraceEvent) ir.IRObject {
	obj := ir.IRObject{
		"seq":     ir.IRInt(event.Seq),
		"op":      ir.IRString(event.Op),
		"sync_id": ir.IRInt(event.SyncID),
	}

	switch event.Op {
	case OpIngest:
		obj["batch"] = transactionsValue(event.Batch)
		if event.Error != "" {
			obj["error"] = ir.IRString(event.Error)
		}
	case OpFetch:
		obj["from"] = ir.IRInt(event.From)
		if event.To != nil {
			obj["to"] = ir.IRInt(*event.To)
		}
		obj["transactions"] = transactionsValue(event.Transactions)
	}
	return obj
}

func transactionsValue(txs []ir.Transaction) ir.IRArray {
	arr := make(ir.IRArray, len(txs))
	for i, tx := range txs {
		arr[i] = tx.Value()
	}
	return arr
}

func modelsValue(models ir.Models) ir.IRObject {
	obj := make(ir.IRObject, len(models))
	for typ, group := range models {
		arr := make(ir.IRArray, len(group))
		for i, m := range group {
			data := m.Data
			if data == nil {
				data = ir.IRNull{}
			}
			arr[i] = ir.IRObject{"id": ir.IRString(m.ID), "data": data}
		}
		obj[typ] = arr
	}
	return obj
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)

	return nil
}
