package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// ApplySupplyDelta processes supply.delta: publish or withdraw
// capacity over an interval.
//
// A negative delta is admitted only if availability stays non-negative
// at every instant of the interval after the withdrawal; supply already
// promised to allocations or active holds cannot be pulled back.
func (e *Engine) ApplySupplyDelta(ctx context.Context, cmd wire.SupplyDelta) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}
	hash, err := wire.CommandHash(wire.TypeSupplyDelta, cmd)
	if err != nil {
		return nil, internal(err)
	}
	if out, err := e.checkIdem(ctx, cmd.Idem, hash); out != nil || err != nil {
		return out, err
	}

	unlock := e.lockAll([]ids.ResourceID{cmd.Resource})
	defer unlock()

	now := e.clock.Now()
	if err := e.expireLocked(ctx, map[ids.ResourceID]bool{cmd.Resource: true}, now); err != nil {
		return nil, err
	}

	st := e.stateFor(cmd.Resource)
	if cmd.Delta < 0 {
		avail := st.availability(now)
		avail.AddInterval(cmd.Interval.Start.Time(), cmd.Interval.End.Time(), cmd.Delta)
		if min := avail.MinOver(cmd.Interval.Start.Time(), cmd.Interval.End.Time()); min < 0 {
			return nil, capacityViolation(string(cmd.Resource), "withdrawal would drive availability negative")
		}
	}

	ev, err := newEvent(st, 0, wire.TypeSupplyDeltaApplied, wire.At(now), cmd.Idem, wire.SupplyDeltaApplied{
		Resource: cmd.Resource,
		Interval: cmd.Interval,
		Delta:    cmd.Delta,
	})
	if err != nil {
		return nil, internal(err)
	}

	out, cerr := e.commit(ctx, []wire.Event{ev}, cmd.Idem, hash, &Outcome{Events: []wire.Event{ev}})
	if cerr != nil {
		return nil, cerr
	}
	slog.Info("supply delta applied", "resource", cmd.Resource, "delta", cmd.Delta, "seq", ev.Seq)
	return out, nil
}

// PlaceHold processes hold.place: reserve capacity on every listed
// resource for the TTL, or admit nothing at all.
func (e *Engine) PlaceHold(ctx context.Context, cmd wire.HoldPlace) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}
	hash, err := wire.CommandHash(wire.TypeHoldPlace, cmd)
	if err != nil {
		return nil, internal(err)
	}
	if out, err := e.checkIdem(ctx, cmd.Idem, hash); out != nil || err != nil {
		return out, err
	}

	unlock := e.lockAll(cmd.Resources)
	defer unlock()

	now := e.clock.Now()
	locked := make(map[ids.ResourceID]bool, len(cmd.Resources))
	for _, r := range cmd.Resources {
		locked[r] = true
	}
	if err := e.expireLocked(ctx, locked, now); err != nil {
		return nil, err
	}

	// Projected availability integrates allocations and every
	// non-terminal hold whose TTL has not lapsed.
	for i, r := range cmd.Resources {
		st := e.stateFor(r)
		avail := st.availability(now)
		if min := avail.MinOver(cmd.Interval.Start.Time(), cmd.Interval.End.Time()); min < cmd.Demands[i] {
			return nil, capacityViolation(string(r), "insufficient availability for demand")
		}
	}

	holdID := ids.HoldID(e.minter.Mint())
	expiresAt := wire.At(now.Add(time.Duration(cmd.TTLSec) * time.Second))

	events := make([]wire.Event, 0, len(cmd.Resources))
	for i, r := range cmd.Resources {
		st := e.stateFor(r)
		ev, err := newEvent(st, 0, wire.TypeHoldPlaced, wire.At(now), cmd.Idem, wire.HoldPlaced{
			HoldID:    holdID,
			Resource:  r,
			Resources: cmd.Resources,
			Interval:  cmd.Interval,
			Demand:    cmd.Demands[i],
			Demands:   cmd.Demands,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return nil, internal(err)
		}
		events = append(events, ev)
	}

	out, cerr := e.commit(ctx, events, cmd.Idem, hash, &Outcome{Events: events, HoldID: holdID})
	if cerr != nil {
		return nil, cerr
	}
	slog.Info("hold placed", "holdId", holdID, "resources", len(cmd.Resources), "ttlSec", cmd.TTLSec)
	return out, nil
}

// ConfirmHold processes hold.confirm: convert an active, unexpired
// hold into a committed allocation.
func (e *Engine) ConfirmHold(ctx context.Context, cmd wire.HoldConfirm) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}
	hash, err := wire.CommandHash(wire.TypeHoldConfirm, cmd)
	if err != nil {
		return nil, internal(err)
	}
	if out, err := e.checkIdem(ctx, cmd.Idem, hash); out != nil || err != nil {
		return out, err
	}

	h := e.holdByID(cmd.HoldID)
	if h == nil {
		return nil, notFound("hold %s not found", cmd.HoldID)
	}

	unlock := e.lockAll(h.Resources)
	defer unlock()

	now := e.clock.Now()
	if h.State != HoldActive {
		return nil, notFound("hold %s is %s", cmd.HoldID, h.State)
	}
	if !h.ExpiresAt.After(now) {
		// First observation of the lapse: emit the expiry release, then
		// reject the confirm.
		locked := make(map[ids.ResourceID]bool, len(h.Resources))
		for _, r := range h.Resources {
			locked[r] = true
		}
		if err := e.expireLocked(ctx, locked, now); err != nil {
			return nil, err
		}
		return nil, expiredHold(string(cmd.HoldID))
	}

	allocationID := ids.AllocationID(e.minter.Mint())

	events := make([]wire.Event, 0, len(h.Resources))
	for i, r := range h.Resources {
		st := e.stateFor(r)
		ev, err := newEvent(st, 0, wire.TypeAllocCommitted, wire.At(now), cmd.Idem, wire.AllocCommitted{
			AllocationID: allocationID,
			HoldID:       h.ID,
			Resource:     r,
			Resources:    h.Resources,
			Interval:     h.Interval,
			Demand:       h.Demands[i],
			Demands:      h.Demands,
		})
		if err != nil {
			return nil, internal(err)
		}
		events = append(events, ev)
	}

	out, cerr := e.commit(ctx, events, cmd.Idem, hash, &Outcome{Events: events, AllocationID: allocationID})
	if cerr != nil {
		return nil, cerr
	}
	slog.Info("hold confirmed", "holdId", h.ID, "allocationId", allocationID)
	return out, nil
}

// ReleaseHold processes hold.release: return an active hold's demand
// to availability before its TTL lapses.
func (e *Engine) ReleaseHold(ctx context.Context, cmd wire.HoldRelease) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}
	hash, err := wire.CommandHash(wire.TypeHoldRelease, cmd)
	if err != nil {
		return nil, internal(err)
	}
	if out, err := e.checkIdem(ctx, cmd.Idem, hash); out != nil || err != nil {
		return out, err
	}

	h := e.holdByID(cmd.HoldID)
	if h == nil {
		return nil, notFound("hold %s not found", cmd.HoldID)
	}

	unlock := e.lockAll(h.Resources)
	defer unlock()

	now := e.clock.Now()
	if h.State != HoldActive {
		return nil, notFound("hold %s is %s", cmd.HoldID, h.State)
	}
	if !h.ExpiresAt.After(now) {
		locked := make(map[ids.ResourceID]bool, len(h.Resources))
		for _, r := range h.Resources {
			locked[r] = true
		}
		if err := e.expireLocked(ctx, locked, now); err != nil {
			return nil, err
		}
		return nil, notFound("hold %s has already expired", cmd.HoldID)
	}

	events := make([]wire.Event, 0, len(h.Resources))
	for _, r := range h.Resources {
		st := e.stateFor(r)
		ev, err := newEvent(st, 0, wire.TypeHoldReleased, wire.At(now), cmd.Idem, wire.HoldReleased{
			HoldID:   h.ID,
			Resource: r,
			Reason:   cmd.Reason,
		})
		if err != nil {
			return nil, internal(err)
		}
		events = append(events, ev)
	}

	out, cerr := e.commit(ctx, events, cmd.Idem, hash, &Outcome{Events: events, HoldID: h.ID})
	if cerr != nil {
		return nil, cerr
	}
	slog.Info("hold released", "holdId", h.ID, "reason", cmd.Reason)
	return out, nil
}

// CancelAlloc processes alloc.cancel: return a committed allocation's
// demand to availability.
func (e *Engine) CancelAlloc(ctx context.Context, cmd wire.AllocCancel) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}
	hash, err := wire.CommandHash(wire.TypeAllocCancel, cmd)
	if err != nil {
		return nil, internal(err)
	}
	if out, err := e.checkIdem(ctx, cmd.Idem, hash); out != nil || err != nil {
		return out, err
	}

	a := e.allocByID(cmd.AllocationID)
	if a == nil {
		return nil, notFound("allocation %s not found", cmd.AllocationID)
	}

	unlock := e.lockAll(a.Resources)
	defer unlock()

	now := e.clock.Now()
	if a.State != AllocCommitted {
		return nil, notFound("allocation %s is %s", cmd.AllocationID, a.State)
	}

	events := make([]wire.Event, 0, len(a.Resources))
	for _, r := range a.Resources {
		st := e.stateFor(r)
		ev, err := newEvent(st, 0, wire.TypeAllocCanceled, wire.At(now), cmd.Idem, wire.AllocCanceled{
			AllocationID: a.ID,
			Resource:     r,
			Reason:       cmd.Reason,
		})
		if err != nil {
			return nil, internal(err)
		}
		events = append(events, ev)
	}

	out, cerr := e.commit(ctx, events, cmd.Idem, hash, &Outcome{Events: events, AllocationID: a.ID})
	if cerr != nil {
		return nil, cerr
	}
	slog.Info("allocation canceled", "allocationId", a.ID, "reason", cmd.Reason)
	return out, nil
}

// holdByID reads the hold table.
func (e *Engine) holdByID(id ids.HoldID) *Hold {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	return e.holds[id]
}

// allocByID reads the allocation index.
func (e *Engine) allocByID(id ids.AllocationID) *Allocation {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	return e.allocs[id]
}
