package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/timeline"
	"github.com/roach88/tap/internal/wire"
)

// pageEntry is one timeline step awaiting pagination.
type pageEntry struct {
	delta  wire.TimelineDelta
	supply bool
}

// Snapshot processes state.snapshot: one resource's supply and
// allocation deltas within a window, strictly as of a cut, paginated.
//
// Baselines carry the integrated value at the window start so a client
// can join the snapshot with a tail resumed at the cut's seqHi without
// replaying history before the window.
func (e *Engine) Snapshot(ctx context.Context, q wire.StateSnapshotReq) (*wire.StateSnapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}

	cut, ok := e.cuts.get(q.CutID)
	if !ok {
		return nil, notFound("cut %s not found or no longer retained", q.CutID)
	}
	seqHi, ok := cut.Seqs[q.Resource]
	if !ok {
		return nil, notFound("resource %s is not covered by cut %s", q.Resource, q.CutID)
	}

	// Project the partition up to the cut. The log is the source of
	// truth here, not the live timelines, which may already be ahead.
	events, err := e.store.Read(ctx, q.Resource, -1, 0)
	if err != nil {
		return nil, internal(err)
	}

	e.tableMu.Lock()
	baseline := e.baselines[q.Resource]
	e.tableMu.Unlock()

	supplyTL := timeline.New(baseline)
	allocTL := timeline.New(0)
	var entries []pageEntry

	// Per-resource demand and interval of committed allocations, needed
	// to integrate later cancellations.
	committed := make(map[ids.AllocationID]wire.AllocCommitted)

	windowStart := q.Window.Start.Time()
	windowEnd := q.Window.End.Time()

	add := func(at wire.Instant, delta, seq int64, supply bool) {
		t := at.Time()
		if supply {
			supplyTL.Add(t, delta)
		} else {
			allocTL.Add(t, delta)
		}
		// Deltas at the window start are folded into the baseline, so
		// only strictly-inside instants page out.
		if t.After(windowStart) && t.Before(windowEnd) {
			entries = append(entries, pageEntry{
				delta:  wire.TimelineDelta{At: at, Delta: delta, Seq: seq},
				supply: supply,
			})
		}
	}

	for _, ev := range events {
		if ev.Seq > seqHi {
			break
		}
		switch ev.Type {
		case wire.TypeSupplyDeltaApplied:
			var p wire.SupplyDeltaApplied
			if err := ev.DecodePayload(&p); err != nil {
				slog.Error("snapshot: bad supply.delta.applied payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
				continue
			}
			add(p.Interval.Start, p.Delta, ev.Seq, true)
			add(p.Interval.End, -p.Delta, ev.Seq, true)

		case wire.TypeAllocCommitted:
			var p wire.AllocCommitted
			if err := ev.DecodePayload(&p); err != nil {
				slog.Error("snapshot: bad alloc.committed payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
				continue
			}
			committed[p.AllocationID] = p
			add(p.Interval.Start, p.Demand, ev.Seq, false)
			add(p.Interval.End, -p.Demand, ev.Seq, false)

		case wire.TypeAllocCanceled:
			var p wire.AllocCanceled
			if err := ev.DecodePayload(&p); err != nil {
				slog.Error("snapshot: bad alloc.canceled payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
				continue
			}
			orig, ok := committed[p.AllocationID]
			if !ok {
				continue
			}
			add(orig.Interval.Start, -orig.Demand, ev.Seq, false)
			add(orig.Interval.End, orig.Demand, ev.Seq, false)
		}
	}

	reply := &wire.StateSnapshot{
		Resource:       q.Resource,
		SeqHi:          seqHi,
		SupplyBase:     supplyTL.ValueAt(windowStart),
		AllocationBase: allocTL.ValueAt(windowStart),
		Supply:         []wire.TimelineDelta{},
		Allocation:     []wire.TimelineDelta{},
	}

	// Stable order: (at, seq ascending).
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].delta, entries[j].delta
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		return a.Seq < b.Seq
	})

	// pageAfter is interpreted strictly greater than the instant.
	if q.PageAfter != nil {
		cutoff := *q.PageAfter
		trimmed := entries[:0]
		for _, en := range entries {
			if en.delta.At.After(cutoff) {
				trimmed = append(trimmed, en)
			}
		}
		entries = trimmed
	}

	emit := len(entries)
	if q.PageSize > 0 && emit > q.PageSize {
		emit = q.PageSize
		// Never split a coincident-instant run across pages: pageAfter
		// resumes strictly after an instant, so a split would drop the
		// rest of the run.
		for emit < len(entries) && entries[emit].delta.At.Equal(entries[emit-1].delta.At) {
			emit++
		}
	}

	for _, en := range entries[:emit] {
		if en.supply {
			reply.Supply = append(reply.Supply, en.delta)
		} else {
			reply.Allocation = append(reply.Allocation, en.delta)
		}
	}
	if emit < len(entries) {
		last := entries[emit-1].delta.At
		reply.NextPageAfter = &last
	}

	return reply, nil
}
