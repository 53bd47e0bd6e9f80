package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// fixtureNamespace seeds name-based UUIDs so fixture ids are stable across runs.
var fixtureNamespace = uuid.MustParse("6f1c1d5e-3c1a-4b8e-9a43-2f5d0c7e9b10")

// IDGenerator hands out deterministic record ids shaped like the UUIDs real
// clients generate. The n-th id for a given seed is always the same.
//
// Thread-safety: safe for concurrent use.
type IDGenerator struct {
	mu   sync.Mutex
	seed string
	n    int
}

// NewIDGenerator creates a generator. An empty seed uses "fixture".
func NewIDGenerator(seed string) *IDGenerator {
	if seed == "" {
		seed = "fixture"
	}
	return &IDGenerator{seed: seed}
}

// Next returns the next id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return uuid.NewSHA1(fixtureNamespace, []byte(fmt.Sprintf("%s/%d", g.seed, g.n))).String()
}
