package harness

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/roach88/syncd/internal/ir"
)

// checkModels reports every expected record that is missing or differs.
// Records not listed in expected are ignored.
func checkModels(actual ir.Models, expected map[string][]ModelSpec) []string {
	types := make([]string, 0, len(expected))
	for typ := range expected {
		types = append(types, typ)
	}
	sort.Strings(types)

	var errs []string
	for _, typ := range types {
		byID := make(map[string]ir.IRValue, len(actual[typ]))
		for _, m := range actual[typ] {
			byID[m.ID] = m.Data
		}

		for _, want := range expected[typ] {
			got, ok := byID[want.ID]
			if !ok {
				errs = append(errs, fmt.Sprintf("expected %s/%s to exist", typ, want.ID))
				continue
			}
			if err := compareData(got, want.Data); err != nil {
				errs = append(errs, fmt.Sprintf("%s/%s: %v", typ, want.ID, err))
			}
		}
	}
	return errs
}

// compareData compares canonical encodings, so 1 and 1.0 or differently
// ordered keys are equal.
func compareData(actual ir.IRValue, expected any) error {
	want, err := ir.FromGo(expected)
	if err != nil {
		return fmt.Errorf("expected data: %w", err)
	}
	wantJSON, err := ir.MarshalCanonical(want)
	if err != nil {
		return fmt.Errorf("expected data: %w", err)
	}
	gotJSON, err := ir.MarshalCanonical(actual)
	if err != nil {
		return fmt.Errorf("actual data: %w", err)
	}
	if !bytes.Equal(wantJSON, gotJSON) {
		return fmt.Errorf("expected data %s, got %s", wantJSON, gotJSON)
	}
	return nil
}

func findModel(models ir.Models, id string) (string, bool) {
	for typ, group := range models {
		for _, m := range group {
			if m.ID == id {
				return typ, true
			}
		}
	}
	return "", false
}
