// Package harness runs scripted sync scenarios against a fresh engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: update_then_delete
//	description: "A record is updated, then tombstoned"
//	steps:
//	  - ingest:
//	      - { type: Todo, id: a, action: create, data: { title: t } }
//	  - ingest:
//	      - { type: Todo, id: a, action: bogus, data: {} }
//	    expect_error: invalid_action
//	  - fetch: { from: 0 }
//	    expect: { sync_id: 1, count: 1 }
//	expect:
//	  horizon: 1
//	  models:
//	    Todo:
//	      - { id: a, data: { title: t } }
//	  absent: [b]
//
// An ingest step submits one batch. expect_error names the rejection the
// batch must produce (invalid_action or empty_batch); without it the batch
// must be accepted. A fetch step reads [from, to] from the log. Without to
// the range is open ended; an explicit to below from reads nothing.
//
// The final expect block is checked against a bootstrap taken after the last
// step. models is a subset match: listed records must be present with equal
// data, unlisted ones are ignored. absent lists ids that must not exist.
//
// # Determinism
//
// Each run uses a fresh in-memory store and testutil.DeterministicClock, so
// the trace of a scenario is byte-stable and can be compared against a
// golden file with RunWithGolden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/basic_sync.yaml")
//	if err != nil {
//	    return err
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    return err
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        fmt.Println(e)
//	    }
//	}
package harness
