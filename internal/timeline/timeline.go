// Package timeline represents piecewise-constant integer functions of
// time as a baseline plus a sorted list of signed deltas. Supply,
// allocation, and hold demand are all timelines; availability is their
// signed composition.
package timeline

import (
	"sort"
	"time"
)

// Delta is a signed step at an instant. Instants are UTC.
type Delta struct {
	At time.Time
	D  int64
}

// Timeline is baseline b plus sorted deltas with unique instants.
// value(t) = b + sum of D for every delta with At <= t.
//
// A prefix-sum array is maintained alongside the deltas so point
// evaluation is O(log n); mutation is O(n) in the suffix, which matches
// the append-mostly write pattern of supply and allocation.
//
// The zero value is an empty timeline with baseline 0. Timeline is not
// safe for concurrent mutation; the engine guards each resource's
// timelines with that resource's lock and hands immutable clones to
// readers.
type Timeline struct {
	base   int64
	deltas []Delta
	cums   []int64 // cums[i] = sum of deltas[0..i].D
}

// New creates a timeline with the given baseline.
func New(base int64) *Timeline {
	return &Timeline{base: base}
}

// Baseline returns the value before the first delta.
func (t *Timeline) Baseline() int64 { return t.base }

// Len returns the number of distinct delta instants.
func (t *Timeline) Len() int { return len(t.deltas) }

// Deltas returns a copy of the delta list in chronological order.
func (t *Timeline) Deltas() []Delta {
	out := make([]Delta, len(t.deltas))
	copy(out, t.deltas)
	return out
}

// Clone returns an independent copy.
func (t *Timeline) Clone() *Timeline {
	out := &Timeline{base: t.base}
	out.deltas = make([]Delta, len(t.deltas))
	copy(out.deltas, t.deltas)
	out.cums = make([]int64, len(t.cums))
	copy(out.cums, t.cums)
	return out
}

// ValueAt returns the function value at instant at: baseline plus every
// delta whose instant is <= at. O(log n).
func (t *Timeline) ValueAt(at time.Time) int64 {
	// First index with At > at; everything before it applies.
	idx := sort.Search(len(t.deltas), func(i int) bool {
		return t.deltas[i].At.After(at)
	})
	if idx == 0 {
		return t.base
	}
	return t.base + t.cums[idx-1]
}

// MinOver returns the minimum value over the half-open window
// [start, end). The sweep starts from ValueAt(start) and applies every
// delta strictly inside the window. On an empty timeline this is the
// baseline.
func (t *Timeline) MinOver(start, end time.Time) int64 {
	running := t.ValueAt(start)
	min := running
	idx := sort.Search(len(t.deltas), func(i int) bool {
		return t.deltas[i].At.After(start)
	})
	for i := idx; i < len(t.deltas); i++ {
		if !t.deltas[i].At.Before(end) {
			break
		}
		running += t.deltas[i].D
		if running < min {
			min = running
		}
	}
	return min
}

// Add applies a signed step at an instant. Coincident instants coalesce
// by summing; a step that sums to zero removes the entry so the delta
// list stays minimal.
func (t *Timeline) Add(at time.Time, d int64) {
	if d == 0 {
		return
	}
	at = at.UTC()
	idx := sort.Search(len(t.deltas), func(i int) bool {
		return !t.deltas[i].At.Before(at)
	})
	if idx < len(t.deltas) && t.deltas[idx].At.Equal(at) {
		t.deltas[idx].D += d
		if t.deltas[idx].D == 0 {
			t.deltas = append(t.deltas[:idx], t.deltas[idx+1:]...)
			t.cums = t.cums[:len(t.deltas)]
			t.recum(idx)
			return
		}
		t.recum(idx)
		return
	}
	t.deltas = append(t.deltas, Delta{})
	copy(t.deltas[idx+1:], t.deltas[idx:])
	t.deltas[idx] = Delta{At: at, D: d}
	t.cums = append(t.cums, 0)
	t.recum(idx)
}

// recum rebuilds the prefix sums from index from onward.
func (t *Timeline) recum(from int) {
	var prev int64
	if from > 0 {
		prev = t.cums[from-1]
	}
	for i := from; i < len(t.deltas); i++ {
		prev += t.deltas[i].D
		t.cums[i] = prev
	}
}

// AddInterval applies +d at start and -d at end, the step-function form
// of "d units over [start, end)". Empty intervals are rejected upstream.
func (t *Timeline) AddInterval(start, end time.Time, d int64) {
	t.Add(start, d)
	t.Add(end, -d)
}

// Merge folds other into t: baselines add, deltas union with coincident
// instants summed.
func (t *Timeline) Merge(other *Timeline) {
	t.base += other.base
	for _, d := range other.deltas {
		t.Add(d.At, d.D)
	}
}

// Clip projects the timeline onto [start, end): the new baseline is the
// value at start (preserving the integral inside the window) and only
// deltas strictly inside the window survive.
func (t *Timeline) Clip(start, end time.Time) *Timeline {
	out := New(t.ValueAt(start))
	idx := sort.Search(len(t.deltas), func(i int) bool {
		return t.deltas[i].At.After(start)
	})
	for i := idx; i < len(t.deltas); i++ {
		if !t.deltas[i].At.Before(end) {
			break
		}
		out.Add(t.deltas[i].At, t.deltas[i].D)
	}
	return out
}
