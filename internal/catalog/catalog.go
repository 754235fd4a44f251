// Package catalog loads and validates resource catalog definitions.
//
// A catalog is a CUE document declaring the resources a node publishes:
// urn, kind, owning authority, and the baseline capacity its supply
// timeline starts from. Definitions are validated against an embedded
// CUE schema, so shape errors surface with positions at load time
// rather than as engine faults later.
package catalog

import (
	"fmt"

	"github.com/roach88/tap/internal/ids"
)

// Resource is one catalog entry.
type Resource struct {
	URN       ids.ResourceID `json:"urn"`
	Kind      string         `json:"kind"`
	Authority string         `json:"authority"`
	Baseline  int64          `json:"baseline"`
}

// Catalog is a validated set of resource definitions.
type Catalog struct {
	Resources []Resource `json:"resources"`
}

// Baselines returns the per-resource supply baselines for engine
// seeding.
func (c *Catalog) Baselines() map[ids.ResourceID]int64 {
	out := make(map[ids.ResourceID]int64, len(c.Resources))
	for _, r := range c.Resources {
		out[r.URN] = r.Baseline
	}
	return out
}

// Validate applies the invariants the CUE schema cannot express across
// entries: unique urns and well-formed resource identifiers.
func (c *Catalog) Validate() error {
	seen := make(map[ids.ResourceID]bool, len(c.Resources))
	for i, r := range c.Resources {
		if err := r.URN.Validate(); err != nil {
			return fmt.Errorf("resources[%d]: %w", i, err)
		}
		if seen[r.URN] {
			return fmt.Errorf("resources[%d]: duplicate urn %s", i, r.URN)
		}
		seen[r.URN] = true
		if r.Baseline < 0 {
			return fmt.Errorf("resources[%d]: baseline must be non-negative, got %d", i, r.Baseline)
		}
	}
	return nil
}
