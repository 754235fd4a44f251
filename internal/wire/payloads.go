package wire

import (
	"fmt"

	"github.com/roach88/tap/internal/ids"
)

// Command payloads. All commands carry an idempotency key; retry is the
// normal path and replays return the original outcome.

// SupplyDelta publishes +Delta capacity at Interval.Start and -Delta at
// Interval.End on one resource.
type SupplyDelta struct {
	Resource ids.ResourceID     `json:"resource"`
	Interval Interval           `json:"interval"`
	Delta    int64              `json:"delta"`
	Idem     ids.IdempotencyKey `json:"idem"`
}

// Validate checks shape only; capacity is the engine's concern.
func (c SupplyDelta) Validate() error {
	if err := c.Resource.Validate(); err != nil {
		return err
	}
	if err := c.Interval.Validate(); err != nil {
		return err
	}
	if c.Delta == 0 {
		return fmt.Errorf("supply.delta: delta must be non-zero")
	}
	if c.Idem == "" {
		return fmt.Errorf("supply.delta: missing idem")
	}
	return nil
}

// HoldPlace reserves Demands[i] units of Resources[i] over Interval for
// TTLSec seconds. len(Demands) must equal len(Resources).
type HoldPlace struct {
	Resources []ids.ResourceID   `json:"resources"`
	Interval  Interval           `json:"interval"`
	Demands   []int64            `json:"demands"`
	TTLSec    int64              `json:"ttlSec"`
	Idem      ids.IdempotencyKey `json:"idem"`
}

// Validate checks shape only.
func (c HoldPlace) Validate() error {
	if len(c.Resources) == 0 {
		return fmt.Errorf("hold.place: at least one resource required")
	}
	if len(c.Demands) != len(c.Resources) {
		return fmt.Errorf("hold.place: %d demands for %d resources", len(c.Demands), len(c.Resources))
	}
	seen := make(map[ids.ResourceID]bool, len(c.Resources))
	for i, r := range c.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r] {
			return fmt.Errorf("hold.place: duplicate resource %s", r)
		}
		seen[r] = true
		if c.Demands[i] <= 0 {
			return fmt.Errorf("hold.place: demand for %s must be positive, got %d", r, c.Demands[i])
		}
	}
	if err := c.Interval.Validate(); err != nil {
		return err
	}
	if c.TTLSec <= 0 {
		return fmt.Errorf("hold.place: ttlSec must be positive, got %d", c.TTLSec)
	}
	if c.Idem == "" {
		return fmt.Errorf("hold.place: missing idem")
	}
	return nil
}

// HoldConfirm converts an active hold into a committed allocation.
type HoldConfirm struct {
	HoldID ids.HoldID         `json:"holdId"`
	Idem   ids.IdempotencyKey `json:"idem"`
}

// Validate checks shape only.
func (c HoldConfirm) Validate() error {
	if c.HoldID == "" {
		return fmt.Errorf("hold.confirm: missing holdId")
	}
	if c.Idem == "" {
		return fmt.Errorf("hold.confirm: missing idem")
	}
	return nil
}

// HoldRelease releases an active hold before its TTL lapses.
type HoldRelease struct {
	HoldID ids.HoldID         `json:"holdId"`
	Reason string             `json:"reason,omitempty"`
	Idem   ids.IdempotencyKey `json:"idem"`
}

// Validate checks shape only.
func (c HoldRelease) Validate() error {
	if c.HoldID == "" {
		return fmt.Errorf("hold.release: missing holdId")
	}
	if c.Idem == "" {
		return fmt.Errorf("hold.release: missing idem")
	}
	return nil
}

// AllocCancel cancels a committed allocation, returning its demand to
// availability.
type AllocCancel struct {
	AllocationID ids.AllocationID   `json:"allocationId"`
	Reason       string             `json:"reason,omitempty"`
	Idem         ids.IdempotencyKey `json:"idem"`
}

// Validate checks shape only.
func (c AllocCancel) Validate() error {
	if c.AllocationID == "" {
		return fmt.Errorf("alloc.cancel: missing allocationId")
	}
	if c.Idem == "" {
		return fmt.Errorf("alloc.cancel: missing idem")
	}
	return nil
}

// Event payloads. Multi-resource commands emit one event per resource;
// each per-resource event carries the full member list so projections
// can be rebuilt from any single partition.

// SupplyDeltaApplied records an accepted supply change.
type SupplyDeltaApplied struct {
	Resource ids.ResourceID `json:"resource"`
	Interval Interval       `json:"interval"`
	Delta    int64          `json:"delta"`
}

// HoldPlaced records an admitted hold on one of its resources. Demand
// is this resource's share; Resources and Demands list all members.
type HoldPlaced struct {
	HoldID    ids.HoldID       `json:"holdId"`
	Resource  ids.ResourceID   `json:"resource"`
	Resources []ids.ResourceID `json:"resources"`
	Interval  Interval         `json:"interval"`
	Demand    int64            `json:"demand"`
	Demands   []int64          `json:"demands"`
	ExpiresAt Instant          `json:"expiresAt"`
}

// HoldReleased records a hold leaving the Active state without
// confirmation. Reason "expired" marks TTL lapse observed lazily.
type HoldReleased struct {
	HoldID   ids.HoldID     `json:"holdId"`
	Resource ids.ResourceID `json:"resource"`
	Reason   string         `json:"reason,omitempty"`
}

// ReasonExpired is the reason carried by lazily emitted expiry releases.
const ReasonExpired = "expired"

// AllocCommitted records a confirmed allocation on one of its resources.
type AllocCommitted struct {
	AllocationID ids.AllocationID `json:"allocationId"`
	HoldID       ids.HoldID       `json:"holdId"`
	Resource     ids.ResourceID   `json:"resource"`
	Resources    []ids.ResourceID `json:"resources"`
	Interval     Interval         `json:"interval"`
	Demand       int64            `json:"demand"`
	Demands      []int64          `json:"demands"`
}

// AllocCanceled records a canceled allocation on one of its resources.
type AllocCanceled struct {
	AllocationID ids.AllocationID `json:"allocationId"`
	Resource     ids.ResourceID   `json:"resource"`
	Reason       string           `json:"reason,omitempty"`
}

// TimelineDelta is a single signed step of a projected timeline. In
// snapshot replies Seq is the event that produced the step and is the
// stable pagination tiebreak within a coincident instant; state.bootstrap
// frames leave Seq at 0.
type TimelineDelta struct {
	At    Instant `json:"at"`
	Delta int64   `json:"delta"`
	Seq   int64   `json:"seq"`
}

// StateBootstrap is the snapshot-in-stream frame emitted once per
// subscribed resource before live events. Subsequent events carry
// seq > AsOfSeq strictly in order. SupplyBase and AllocationBase are
// the values of the respective timelines before their first delta.
type StateBootstrap struct {
	Resource       ids.ResourceID  `json:"resource"`
	SupplyBase     int64           `json:"supplyBase"`
	AllocationBase int64           `json:"allocationBase"`
	Supply         []TimelineDelta `json:"supply"`
	Allocation     []TimelineDelta `json:"allocation"`
	AsOfSeq        int64           `json:"asOfSeq"`
}

// StreamHeartbeat is emitted when no event has flowed for the
// negotiated heartbeat interval.
type StreamHeartbeat struct {
	TS Instant `json:"ts"`
}
