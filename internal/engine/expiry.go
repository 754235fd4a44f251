package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// expireLocked emits hold.released(reason="expired") for every active
// hold whose TTL has lapsed and whose resources are all covered by the
// held lock set. Holds spanning resources outside the set are skipped;
// they stop counting against availability regardless (the TTL filter is
// reapplied on every admission check) and the sweep picks their events
// up later.
//
// The caller must hold the locks for every resource in locked.
func (e *Engine) expireLocked(ctx context.Context, locked map[ids.ResourceID]bool, now time.Time) error {
	var lapsed []*Hold
	e.tableMu.Lock()
	for _, h := range e.holds {
		if h.State != HoldActive || h.ExpiresAt.After(now) {
			continue
		}
		covered := true
		for _, r := range h.Resources {
			if !locked[r] {
				covered = false
				break
			}
		}
		if covered {
			lapsed = append(lapsed, h)
		}
	}
	e.tableMu.Unlock()

	if len(lapsed) == 0 {
		return nil
	}

	// Multiple lapsed holds may share a resource; offsets keep their
	// sequence numbers distinct within the batch.
	offsets := make(map[ids.ResourceID]int64)
	events := make([]wire.Event, 0, len(lapsed))
	for _, h := range lapsed {
		for _, r := range h.Resources {
			st := e.stateFor(r)
			ev, err := newEvent(st, offsets[r], wire.TypeHoldReleased, wire.At(now), "", wire.HoldReleased{
				HoldID:   h.ID,
				Resource: r,
				Reason:   wire.ReasonExpired,
			})
			if err != nil {
				return internal(err)
			}
			offsets[r]++
			events = append(events, ev)
		}
		slog.Debug("hold expired", "holdId", h.ID, "expiresAt", h.ExpiresAt)
	}

	return e.emit(ctx, events)
}

// SweepExpired emits expiry releases for every lapsed hold, acquiring
// each hold's resource locks. A background sweeper calling this is an
// optimization only: admission correctness never depends on it, because
// availability always filters lapsed holds by TTL first.
func (e *Engine) SweepExpired(ctx context.Context) error {
	now := e.clock.Now()

	e.tableMu.Lock()
	var lapsed []*Hold
	for _, h := range e.holds {
		if h.State == HoldActive && !h.ExpiresAt.After(now) {
			lapsed = append(lapsed, h)
		}
	}
	e.tableMu.Unlock()

	for _, h := range lapsed {
		unlock := e.lockAll(h.Resources)
		locked := make(map[ids.ResourceID]bool, len(h.Resources))
		for _, r := range h.Resources {
			locked[r] = true
		}
		err := e.expireLocked(ctx, locked, now)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
