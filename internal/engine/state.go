package engine

import (
	"time"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/timeline"
	"github.com/roach88/tap/internal/wire"
)

// HoldState is the lifecycle state of a hold.
type HoldState string

const (
	HoldActive    HoldState = "Active"
	HoldConfirmed HoldState = "Confirmed"
	HoldReleased  HoldState = "Released"
	HoldExpired   HoldState = "Expired"
)

// Terminal reports whether the state admits no further transitions.
func (s HoldState) Terminal() bool {
	return s == HoldConfirmed || s == HoldReleased || s == HoldExpired
}

// Hold is projected state derived from hold.placed events. It is owned
// by the engine's hold table and reconstructable by replay.
type Hold struct {
	ID        ids.HoldID
	Resources []ids.ResourceID
	Demands   []int64
	Interval  wire.Interval
	ExpiresAt time.Time
	State     HoldState
}

// DemandOn returns the hold's demand on one of its resources, or 0.
func (h *Hold) DemandOn(resource ids.ResourceID) int64 {
	for i, r := range h.Resources {
		if r == resource {
			return h.Demands[i]
		}
	}
	return 0
}

// activeAt reports whether the hold reserves capacity at instant now:
// state Active and TTL not yet lapsed. Availability computations always
// reapply this filter, so a lapsed hold never blocks admission even
// before its expiry event is emitted.
func (h *Hold) activeAt(now time.Time) bool {
	return h.State == HoldActive && h.ExpiresAt.After(now)
}

// AllocState is the lifecycle state of an allocation.
type AllocState string

const (
	AllocCommitted AllocState = "Committed"
	AllocCanceled  AllocState = "Canceled"
)

// Allocation is projected state derived from alloc.committed events.
type Allocation struct {
	ID        ids.AllocationID
	HoldID    ids.HoldID
	Resources []ids.ResourceID
	Demands   []int64
	Interval  wire.Interval
	State     AllocState
}

// DemandOn returns the allocation's demand on one of its resources, or 0.
func (a *Allocation) DemandOn(resource ids.ResourceID) int64 {
	for i, r := range a.Resources {
		if r == resource {
			return a.Demands[i]
		}
	}
	return 0
}

// resourceState is everything the engine tracks for one resource. All
// fields are guarded by the resource's lock; seqHi mirrors the store's
// latest committed sequence (-1 when the partition is empty).
type resourceState struct {
	resource ids.ResourceID
	seqHi    int64
	supply   *timeline.Timeline
	alloc    *timeline.Timeline
	holds    map[ids.HoldID]*Hold // holds still counted against this resource
}

func newResourceState(resource ids.ResourceID, baseline int64) *resourceState {
	return &resourceState{
		resource: resource,
		seqHi:    -1,
		supply:   timeline.New(baseline),
		alloc:    timeline.New(0),
		holds:    make(map[ids.HoldID]*Hold),
	}
}

// availability builds Supply - Allocation - ActiveHoldDemand as of now.
// The TTL filter is reapplied here on every call, so a lapsed hold
// stops reserving capacity even before its expiry event is emitted.
func (st *resourceState) availability(now time.Time) *timeline.Timeline {
	avail := timeline.New(st.supply.Baseline() - st.alloc.Baseline())
	for _, d := range st.supply.Deltas() {
		avail.Add(d.At, d.D)
	}
	for _, d := range st.alloc.Deltas() {
		avail.Add(d.At, -d.D)
	}
	for _, h := range st.holds {
		if !h.activeAt(now) {
			continue
		}
		avail.AddInterval(h.Interval.Start.Time(), h.Interval.End.Time(), -h.DemandOn(st.resource))
	}
	return avail
}
