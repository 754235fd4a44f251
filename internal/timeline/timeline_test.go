package timeline

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 1, 5, hour, min, 0, 0, time.UTC)
}

func TestValueAt_EmptyTimeline(t *testing.T) {
	tl := New(3)
	if got := tl.ValueAt(at(12, 0)); got != 3 {
		t.Errorf("ValueAt on empty timeline = %d, want baseline 3", got)
	}
}

func TestValueAt_AppliesDeltasAtOrBefore(t *testing.T) {
	tl := New(0)
	tl.Add(at(9, 0), 2)
	tl.Add(at(12, 0), -1)

	cases := []struct {
		at   time.Time
		want int64
	}{
		{at(8, 0), 0},
		{at(9, 0), 2},  // delta at the instant applies
		{at(10, 0), 2},
		{at(12, 0), 1},
		{at(13, 0), 1},
	}
	for _, tc := range cases {
		if got := tl.ValueAt(tc.at); got != tc.want {
			t.Errorf("ValueAt(%v) = %d, want %d", tc.at, got, tc.want)
		}
	}
}

func TestMinOver_EmptyTimelineReturnsBaseline(t *testing.T) {
	tl := New(5)
	if got := tl.MinOver(at(9, 0), at(17, 0)); got != 5 {
		t.Errorf("MinOver on empty timeline = %d, want 5", got)
	}
}

func TestMinOver_SweepsWindow(t *testing.T) {
	tl := New(0)
	tl.AddInterval(at(9, 0), at(17, 0), 2)  // +2 over [09,17)
	tl.AddInterval(at(10, 0), at(11, 0), -2) // dip to 0 over [10,11)

	if got := tl.MinOver(at(9, 0), at(17, 0)); got != 0 {
		t.Errorf("MinOver full window = %d, want 0", got)
	}
	if got := tl.MinOver(at(11, 0), at(17, 0)); got != 2 {
		t.Errorf("MinOver after dip = %d, want 2", got)
	}
	// Window end is exclusive: the -2 at 10:00 is outside [09:00, 10:00).
	if got := tl.MinOver(at(9, 0), at(10, 0)); got != 2 {
		t.Errorf("MinOver before dip = %d, want 2", got)
	}
}

func TestAdd_CoalescesCoincidentInstants(t *testing.T) {
	tl := New(0)
	tl.Add(at(9, 0), 1)
	tl.Add(at(9, 0), 2)
	if tl.Len() != 1 {
		t.Fatalf("coincident instants not coalesced: %d entries", tl.Len())
	}
	if got := tl.ValueAt(at(9, 0)); got != 3 {
		t.Errorf("coalesced value = %d, want 3", got)
	}
}

func TestAdd_ZeroSumRemovesEntry(t *testing.T) {
	tl := New(0)
	tl.Add(at(9, 0), 1)
	tl.Add(at(9, 0), -1)
	if tl.Len() != 0 {
		t.Errorf("zero-sum entry kept: %d entries", tl.Len())
	}
}

func TestAdd_MaintainsOrderAndPrefixSums(t *testing.T) {
	tl := New(1)
	tl.Add(at(12, 0), 4)
	tl.Add(at(9, 0), 2)
	tl.Add(at(10, 0), -1)

	deltas := tl.Deltas()
	if len(deltas) != 3 {
		t.Fatalf("len = %d", len(deltas))
	}
	if !deltas[0].At.Equal(at(9, 0)) || !deltas[1].At.Equal(at(10, 0)) || !deltas[2].At.Equal(at(12, 0)) {
		t.Errorf("deltas out of order: %v", deltas)
	}
	if got := tl.ValueAt(at(23, 0)); got != 6 {
		t.Errorf("final value = %d, want 6", got)
	}
	if got := tl.ValueAt(at(10, 30)); got != 2 {
		t.Errorf("mid value = %d, want 2", got)
	}
}

func TestMerge_SumsBaselinesAndDeltas(t *testing.T) {
	a := New(1)
	a.Add(at(9, 0), 1)
	b := New(2)
	b.Add(at(9, 0), 1)
	b.Add(at(10, 0), -1)

	a.Merge(b)
	if a.Baseline() != 3 {
		t.Errorf("baseline = %d, want 3", a.Baseline())
	}
	if got := a.ValueAt(at(9, 30)); got != 5 {
		t.Errorf("value after merge = %d, want 5", got)
	}
	if got := a.ValueAt(at(10, 0)); got != 4 {
		t.Errorf("value after second delta = %d, want 4", got)
	}
}

func TestClip_PreservesValueInsideWindow(t *testing.T) {
	tl := New(0)
	tl.AddInterval(at(8, 0), at(18, 0), 3)
	tl.AddInterval(at(10, 0), at(11, 0), -1)

	clipped := tl.Clip(at(9, 0), at(12, 0))
	if clipped.Baseline() != 3 {
		t.Errorf("clipped baseline = %d, want 3", clipped.Baseline())
	}
	for _, probe := range []time.Time{at(9, 30), at(10, 30), at(11, 30)} {
		if clipped.ValueAt(probe) != tl.ValueAt(probe) {
			t.Errorf("clip changed value at %v: %d vs %d", probe, clipped.ValueAt(probe), tl.ValueAt(probe))
		}
	}
	// The closing delta at 18:00 is outside and dropped.
	if clipped.Len() != 2 {
		t.Errorf("clipped len = %d, want 2", clipped.Len())
	}
}

func TestClone_Independent(t *testing.T) {
	tl := New(0)
	tl.Add(at(9, 0), 1)
	cp := tl.Clone()
	cp.Add(at(10, 0), 5)

	if tl.Len() != 1 {
		t.Errorf("clone mutation leaked into original")
	}
	if cp.Len() != 2 {
		t.Errorf("clone missing mutation")
	}
}
