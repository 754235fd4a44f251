package wire

import (
	"fmt"

	"github.com/roach88/tap/internal/ids"
)

// FeasibleCheck asks whether Demands[i] units of Resources[i] could be
// held over Interval right now. It never mutates state; a later
// hold.place may still fail if the window closes in between.
type FeasibleCheck struct {
	Resources []ids.ResourceID `json:"resources"`
	Interval  Interval         `json:"interval"`
	Demands   []int64          `json:"demands"`
}

// Validate checks shape only.
func (q FeasibleCheck) Validate() error {
	if len(q.Resources) == 0 {
		return fmt.Errorf("feasible.check: at least one resource required")
	}
	if len(q.Demands) != len(q.Resources) {
		return fmt.Errorf("feasible.check: %d demands for %d resources", len(q.Demands), len(q.Resources))
	}
	for _, r := range q.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return q.Interval.Validate()
}

// ResourceLimit reports the minimum availability of one resource over
// the queried window.
type ResourceLimit struct {
	Resource ids.ResourceID `json:"resource"`
	MinAvail int64          `json:"minAvail"`
}

// FeasibleResult answers feasible.check.
type FeasibleResult struct {
	Feasible bool            `json:"feasible"`
	Limits   []ResourceLimit `json:"limits"`
}

// FreeBusyGet asks for the busy/free decomposition of one resource over
// a window.
type FreeBusyGet struct {
	Resource ids.ResourceID `json:"resource"`
	Window   Interval       `json:"window"`
}

// Validate checks shape only.
func (q FreeBusyGet) Validate() error {
	if err := q.Resource.Validate(); err != nil {
		return err
	}
	return q.Window.Validate()
}

// Segment is one maximal run of constant busy-ness. Busy means
// availability is fully consumed (zero or below baseline zero).
type Segment struct {
	Interval Interval `json:"interval"`
	Busy     bool     `json:"busy"`
}

// FreeBusyData answers freebusy.get with ordered, non-overlapping
// segments exactly covering the window.
type FreeBusyData struct {
	Resource ids.ResourceID `json:"resource"`
	Window   Interval       `json:"window"`
	Segments []Segment      `json:"segments"`
}

// CutCreate requests a cross-resource watermark.
type CutCreate struct {
	Resources []ids.ResourceID `json:"resources"`
}

// Validate checks shape only.
func (q CutCreate) Validate() error {
	if len(q.Resources) == 0 {
		return fmt.Errorf("cut.create: at least one resource required")
	}
	for _, r := range q.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CutCreated answers cut.create. Seqs maps each resource to its seqHi
// at capture; -1 means the resource had no events yet.
type CutCreated struct {
	CutID    ids.CutID                `json:"cutId"`
	Seqs     map[ids.ResourceID]int64 `json:"seqs"`
	IssuedAt Instant                  `json:"issuedAt"`
}

// StateSnapshotReq requests one resource's supply and allocation deltas
// within Window strictly as of a cut.
type StateSnapshotReq struct {
	CutID     ids.CutID      `json:"cutId"`
	Resource  ids.ResourceID `json:"resource"`
	Window    Interval       `json:"window"`
	PageAfter *Instant       `json:"pageAfter,omitempty"`
	PageSize  int            `json:"pageSize,omitempty"`
}

// Validate checks shape only.
func (q StateSnapshotReq) Validate() error {
	if q.CutID == "" {
		return fmt.Errorf("state.snapshot: missing cutId")
	}
	if err := q.Resource.Validate(); err != nil {
		return err
	}
	if err := q.Window.Validate(); err != nil {
		return err
	}
	if q.PageSize < 0 {
		return fmt.Errorf("state.snapshot: pageSize must be non-negative, got %d", q.PageSize)
	}
	return nil
}

// StateSnapshot answers state.snapshot. NextPageAfter is set when the
// page was truncated; pass it back as PageAfter (interpreted strictly
// greater) to continue.
type StateSnapshot struct {
	Resource ids.ResourceID `json:"resource"`
	SeqHi    int64          `json:"seqHi"`

	// SupplyBase and AllocationBase are the integrated values of the
	// respective timelines at the window start, as of the cut. Deltas
	// at or before the window start are folded into them.
	SupplyBase     int64 `json:"supplyBase"`
	AllocationBase int64 `json:"allocationBase"`

	Supply        []TimelineDelta `json:"supply"`
	Allocation    []TimelineDelta `json:"allocation"`
	NextPageAfter *Instant        `json:"nextPageAfter,omitempty"`
}

// ResumePoint names the last sequence a subscriber observed on one
// resource. The stream resumes strictly after it.
type ResumePoint struct {
	Resource ids.ResourceID `json:"resource"`
	SeqHi    int64          `json:"seqHi"`
}

// StreamOpen requests a subscription over one or more resources.
// Omitting After (and leaving IncludeBootstrap unset or true) selects
// bootstrap mode; providing After selects resume mode and suppresses
// bootstrap frames.
type StreamOpen struct {
	Resources        []ids.ResourceID `json:"resources"`
	After            []ResumePoint    `json:"after,omitempty"`
	IncludeBootstrap *bool            `json:"includeBootstrap,omitempty"`
	HeartbeatSec     int64            `json:"heartbeatSec,omitempty"`
}

// Validate checks shape only.
func (q StreamOpen) Validate() error {
	if len(q.Resources) == 0 {
		return fmt.Errorf("stream.open: at least one resource required")
	}
	seen := make(map[ids.ResourceID]bool, len(q.Resources))
	for _, r := range q.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r] {
			return fmt.Errorf("stream.open: duplicate resource %s", r)
		}
		seen[r] = true
	}
	for _, rp := range q.After {
		if !seen[rp.Resource] {
			return fmt.Errorf("stream.open: after lists %s which is not subscribed", rp.Resource)
		}
		if rp.SeqHi < -1 {
			return fmt.Errorf("stream.open: after.seqHi must be >= -1, got %d", rp.SeqHi)
		}
	}
	if q.HeartbeatSec < 0 {
		return fmt.Errorf("stream.open: heartbeatSec must be non-negative, got %d", q.HeartbeatSec)
	}
	return nil
}

// StreamOpened answers stream.open, echoing the effective heartbeat.
type StreamOpened struct {
	SubscriptionID string `json:"subscriptionId"`
	HeartbeatSec   int64  `json:"heartbeatSec"`
}
