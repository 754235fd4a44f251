package engine

import (
	"context"

	"github.com/roach88/tap/internal/wire"
)

// FeasibleCheck processes feasible.check: report whether the demands
// could be held over the interval right now. Purely advisory - a
// subsequent hold.place revalidates under the resource locks and may
// still fail if the window closes in between.
func (e *Engine) FeasibleCheck(ctx context.Context, q wire.FeasibleCheck) (*wire.FeasibleResult, error) {
	if err := q.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}

	now := e.clock.Now()
	result := &wire.FeasibleResult{Feasible: true, Limits: make([]wire.ResourceLimit, 0, len(q.Resources))}

	for i, r := range q.Resources {
		// Clone under the lock, evaluate outside it: queries never
		// block writers for longer than the copy.
		mu := e.lockFor(r)
		mu.Lock()
		avail := e.stateFor(r).availability(now)
		mu.Unlock()

		min := avail.MinOver(q.Interval.Start.Time(), q.Interval.End.Time())
		result.Limits = append(result.Limits, wire.ResourceLimit{Resource: r, MinAvail: min})
		if min < q.Demands[i] {
			result.Feasible = false
		}
	}
	return result, nil
}

// FreeBusy processes freebusy.get: decompose a window into maximal
// busy/free segments. Busy means availability is fully consumed (zero
// or less) at every instant of the segment.
func (e *Engine) FreeBusy(ctx context.Context, q wire.FreeBusyGet) (*wire.FreeBusyData, error) {
	if err := q.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}

	now := e.clock.Now()
	mu := e.lockFor(q.Resource)
	mu.Lock()
	avail := e.stateFor(q.Resource).availability(now)
	mu.Unlock()

	clipped := avail.Clip(q.Window.Start.Time(), q.Window.End.Time())

	data := &wire.FreeBusyData{Resource: q.Resource, Window: q.Window}
	value := clipped.Baseline()
	segStart := q.Window.Start
	busy := value <= 0

	for _, d := range clipped.Deltas() {
		value += d.D
		nowBusy := value <= 0
		if nowBusy == busy {
			continue
		}
		at := wire.At(d.At)
		data.Segments = append(data.Segments, wire.Segment{
			Interval: wire.Interval{Start: segStart, End: at},
			Busy:     busy,
		})
		segStart = at
		busy = nowBusy
	}
	data.Segments = append(data.Segments, wire.Segment{
		Interval: wire.Interval{Start: segStart, End: q.Window.End},
		Busy:     busy,
	})

	return data, nil
}
