package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/syncd/internal/ir"
)

// Scenario is a scripted sequence of sync operations plus the expected
// final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Expect is checked against a bootstrap taken after the last step.
	Expect *FinalExpect `yaml:"expect,omitempty"`
}

// Step is either an ingest or a fetch. Exactly one must be set.
// `ingest: []` decodes to a non-nil empty slice and is submitted as an empty
// batch.
type Step struct {
	Ingest      []TxSpec     `yaml:"ingest,omitempty"`
	ExpectError string       `yaml:"expect_error,omitempty"`
	Fetch       *FetchSpec   `yaml:"fetch,omitempty"`
	Expect      *FetchExpect `yaml:"expect,omitempty"`
}

// TxSpec is a transaction as written in YAML.
type TxSpec struct {
	Type   string `yaml:"type"`
	ID     string `yaml:"id"`
	Action string `yaml:"action"`
	Data   any    `yaml:"data"`
}

// FetchSpec is the range of a fetch step. A nil To leaves the range open.
type FetchSpec struct {
	From int64  `yaml:"from"`
	To   *int64 `yaml:"to,omitempty"`
}

func (f FetchSpec) upper() int64 {
	if f.To == nil {
		return ir.Unbounded
	}
	return *f.To
}

// FetchExpect checks a fetch result. Nil fields are not checked.
type FetchExpect struct {
	SyncID *int64 `yaml:"sync_id,omitempty"`
	Count  *int   `yaml:"count,omitempty"`
}

// FinalExpect checks the state after the last step.
type FinalExpect struct {
	Horizon *int64                 `yaml:"horizon,omitempty"`
	Models  map[string][]ModelSpec `yaml:"models,omitempty"`
	Absent  []string               `yaml:"absent,omitempty"`
}

// ModelSpec is an expected bootstrap record.
type ModelSpec struct {
	ID   string `yaml:"id"`
	Data any    `yaml:"data"`
}

// Expected error kinds for ingest steps.
const (
	ErrorInvalidAction = "invalid_action"
	ErrorEmptyBatch    = "empty_batch"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "expect_eror:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch {
		case step.Ingest != nil && step.Fetch != nil:
			return fmt.Errorf("steps[%d]: ingest and fetch are mutually exclusive", i)
		case step.Ingest != nil:
			if step.Expect != nil {
				return fmt.Errorf("steps[%d]: expect applies to fetch steps only", i)
			}
			switch step.ExpectError {
			case "", ErrorInvalidAction, ErrorEmptyBatch:
			default:
				return fmt.Errorf("steps[%d]: unknown expect_error %q", i, step.ExpectError)
			}
		case step.Fetch != nil:
			if step.ExpectError != "" {
				return fmt.Errorf("steps[%d]: expect_error applies to ingest steps only", i)
			}
		default:
			return fmt.Errorf("steps[%d]: one of ingest or fetch is required", i)
		}
	}

	if s.Expect != nil {
		for typ, models := range s.Expect.Models {
			for j, m := range models {
				if m.ID == "" {
					return fmt.Errorf("expect.models[%s][%d]: id is required", typ, j)
				}
			}
		}
	}

	return nil
}

// batch converts the YAML transactions of an ingest step.
func (s Step) batch() (ir.Batch, error) {
	batch := make(ir.Batch, len(s.Ingest))
	for i, spec := range s.Ingest {
		data, err := ir.FromGo(spec.Data)
		if err != nil {
			return nil, fmt.Errorf("ingest[%d] data: %w", i, err)
		}
		batch[i] = ir.Transaction{
			Type:   spec.Type,
			ID:     spec.ID,
			Action: ir.Action(spec.Action),
			Data:   data,
		}
	}
	return batch, nil
}
