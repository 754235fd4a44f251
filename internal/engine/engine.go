// Package engine is the allocation core: it validates mutation
// commands against the zero-sum availability invariant, appends
// authoritative events to the per-resource log, maintains projected
// timelines and the hold table, issues cuts, serves snapshots, and
// feeds the stream multiplexer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/store"
	"github.com/roach88/tap/internal/stream"
	"github.com/roach88/tap/internal/wire"
)

// Engine is the command processor.
//
// Concurrency model: commands are serialized per resource by that
// resource's lock. Multi-resource commands acquire every listed lock in
// lexicographic urn order to prevent deadlock; all appends within the
// command commit in one store transaction under the held set.
//
// The table mutex guards the id-keyed maps only; domain state for a
// resource (timelines, per-resource hold index, seqHi) is guarded by
// the resource lock.
type Engine struct {
	store  *store.Store
	clock  Clock
	minter ids.Minter
	mux    *stream.Mux

	tableMu sync.Mutex
	locks   map[ids.ResourceID]*sync.Mutex
	states  map[ids.ResourceID]*resourceState
	holds   map[ids.HoldID]*Hold
	allocs  map[ids.AllocationID]*Allocation

	cuts *cutLedger

	baselines map[ids.ResourceID]int64

	appendRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock. Tests use a fake.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMinter replaces the UUIDv7 minter. Tests use a fixed sequence.
func WithMinter(m ids.Minter) Option {
	return func(e *Engine) { e.minter = m }
}

// WithBaselines seeds per-resource supply baselines, typically from a
// catalog. Resources not listed start at baseline 0.
func WithBaselines(b map[ids.ResourceID]int64) Option {
	return func(e *Engine) {
		for r, v := range b {
			e.baselines[r] = v
		}
	}
}

// WithCutRetention overrides the cut ledger retention policy.
func WithCutRetention(maxEntries int, minRetention time.Duration) Option {
	return func(e *Engine) { e.cuts = newCutLedger(maxEntries, minRetention) }
}

// defaultAppendRetries bounds internal retry of transient store
// failures before surfacing CodeInternal.
const defaultAppendRetries = 3

// New builds an engine over a store and rebuilds all projected state
// (timelines, hold table, allocation index, per-resource seqHi) by
// replaying the log in commit order.
func New(s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:         s,
		clock:         SystemClock{},
		minter:        ids.UUIDv7Minter{},
		mux:           stream.NewMux(),
		locks:         make(map[ids.ResourceID]*sync.Mutex),
		states:        make(map[ids.ResourceID]*resourceState),
		holds:         make(map[ids.HoldID]*Hold),
		allocs:        make(map[ids.AllocationID]*Allocation),
		cuts:          newCutLedger(defaultCutEntries, defaultCutRetention),
		baselines:     make(map[ids.ResourceID]int64),
		appendRetries: defaultAppendRetries,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.replay(context.Background()); err != nil {
		return nil, fmt.Errorf("rebuild projections: %w", err)
	}
	return e, nil
}

// Mux returns the stream multiplexer for transport integration.
func (e *Engine) Mux() *stream.Mux { return e.mux }

// Clock returns the engine's clock facade.
func (e *Engine) Clock() Clock { return e.clock }

// lockFor returns the mutex serializing writes to a resource,
// creating it on first use.
func (e *Engine) lockFor(resource ids.ResourceID) *sync.Mutex {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	mu, ok := e.locks[resource]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[resource] = mu
	}
	return mu
}

// stateFor returns the resource's projected state, creating an empty
// one (catalog baseline, seqHi -1) on first use. Callers must hold the
// resource lock before touching the returned state.
func (e *Engine) stateFor(resource ids.ResourceID) *resourceState {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	st, ok := e.states[resource]
	if !ok {
		st = newResourceState(resource, e.baselines[resource])
		e.states[resource] = st
	}
	return st
}

// lockAll acquires the locks for a set of resources in lexicographic
// urn order and returns the unlock function. Release is unordered.
func (e *Engine) lockAll(resources []ids.ResourceID) func() {
	sorted := make([]ids.ResourceID, len(resources))
	copy(sorted, resources)
	ids.SortResources(sorted)

	mus := make([]*sync.Mutex, len(sorted))
	for i, r := range sorted {
		mus[i] = e.lockFor(r)
		mus[i].Lock()
	}
	return func() {
		for _, mu := range mus {
			mu.Unlock()
		}
	}
}

// Outcome is the committed result of a command: the events it emitted
// plus any minted ids. It is stored against the idempotency key, so a
// replay returns the identical value with Replayed set.
type Outcome struct {
	Events       []wire.Event     `json:"events"`
	HoldID       ids.HoldID       `json:"holdId,omitempty"`
	AllocationID ids.AllocationID `json:"allocationId,omitempty"`

	// Replayed marks an idempotent replay, the case the wire layer names
	// idempotency_replay; it is not an error.
	Replayed bool `json:"-"`
}

// checkIdem returns the stored outcome if the key has already
// committed. A stored hash differing from the replayed command's hash
// is a conflict: the client reused a key for a different command.
func (e *Engine) checkIdem(ctx context.Context, idem ids.IdempotencyKey, commandHash string) (*Outcome, error) {
	storedHash, raw, ok, err := e.store.LookupIdempotency(ctx, idem)
	if err != nil {
		return nil, internal(err)
	}
	if !ok {
		return nil, nil
	}
	if storedHash != commandHash {
		return nil, conflict("idempotency key %s reused with a different command", idem)
	}
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, internal(fmt.Errorf("decode stored outcome for %s: %w", idem, err))
	}
	out.Replayed = true
	return &out, nil
}

// newEvent builds a log record for a resource at the next sequence.
// The caller must hold the resource lock; seq is seqHi+offset+1.
func newEvent(st *resourceState, offset int64, typ string, ts wire.Instant, idem ids.IdempotencyKey, payload any) (wire.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return wire.Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return wire.Event{
		Resource:   st.resource,
		Seq:        st.seqHi + offset + 1,
		Type:       typ,
		TS:         ts,
		SourceIdem: idem,
		Payload:    json.RawMessage(raw),
	}, nil
}

// commit durably appends a command's events with its idempotency
// record, applies them to projected state, and publishes them to the
// multiplexer. Transient store failures are retried with bounded
// backoff; exhaustion surfaces CodeInternal with state untouched.
//
// On ErrIdemExists (a concurrent attempt with the same key won the
// race) the stored outcome is returned as a replay.
func (e *Engine) commit(ctx context.Context, events []wire.Event, idem ids.IdempotencyKey, commandHash string, out *Outcome) (*Outcome, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, internal(fmt.Errorf("encode outcome: %w", err))
	}

	var appendErr error
	for attempt := 0; attempt <= e.appendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
		}
		appendErr = e.store.AppendCommand(ctx, events, idem, commandHash, raw)
		if appendErr == nil {
			break
		}
		if errors.Is(appendErr, store.ErrIdemExists) {
			return e.checkIdem(ctx, idem, commandHash)
		}
		if errors.Is(appendErr, store.ErrSeqConflict) {
			break
		}
	}
	if appendErr != nil {
		return nil, internal(fmt.Errorf("append: %w", appendErr))
	}

	for _, ev := range events {
		e.apply(ev)
		e.mux.Publish(ev)
	}
	return out, nil
}

// emit durably appends engine-originated events (no idempotency key),
// applies, and publishes. Used for lazy expiry.
func (e *Engine) emit(ctx context.Context, events []wire.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := e.store.AppendEvents(ctx, events); err != nil {
		return internal(fmt.Errorf("append expiry events: %w", err))
	}
	for _, ev := range events {
		e.apply(ev)
		e.mux.Publish(ev)
	}
	return nil
}

// replay rebuilds projected state from the log in commit order.
func (e *Engine) replay(ctx context.Context) error {
	events, err := e.store.ReadAll(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.apply(ev)
	}
	slog.Info("projections rebuilt", "events", len(events), "resources", len(e.states))
	return nil
}

// apply folds one committed event into projected state. Called under
// the resource lock during command processing and single-threaded
// during replay. Application is idempotent per (resource, seq) because
// seqHi only moves forward.
func (e *Engine) apply(ev wire.Event) {
	st := e.stateFor(ev.Resource)
	if ev.Seq <= st.seqHi {
		return
	}
	st.seqHi = ev.Seq

	switch ev.Type {
	case wire.TypeSupplyDeltaApplied:
		var p wire.SupplyDeltaApplied
		if err := ev.DecodePayload(&p); err != nil {
			slog.Error("apply: bad supply.delta.applied payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
			return
		}
		st.supply.AddInterval(p.Interval.Start.Time(), p.Interval.End.Time(), p.Delta)

	case wire.TypeHoldPlaced:
		var p wire.HoldPlaced
		if err := ev.DecodePayload(&p); err != nil {
			slog.Error("apply: bad hold.placed payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
			return
		}
		e.tableMu.Lock()
		h, ok := e.holds[p.HoldID]
		if !ok {
			h = &Hold{
				ID:        p.HoldID,
				Resources: p.Resources,
				Demands:   p.Demands,
				Interval:  p.Interval,
				ExpiresAt: p.ExpiresAt.Time(),
				State:     HoldActive,
			}
			e.holds[p.HoldID] = h
		}
		e.tableMu.Unlock()
		st.holds[p.HoldID] = h

	case wire.TypeHoldReleased:
		var p wire.HoldReleased
		if err := ev.DecodePayload(&p); err != nil {
			slog.Error("apply: bad hold.released payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
			return
		}
		e.tableMu.Lock()
		if h, ok := e.holds[p.HoldID]; ok && h.State == HoldActive {
			if p.Reason == wire.ReasonExpired {
				h.State = HoldExpired
			} else {
				h.State = HoldReleased
			}
		}
		e.tableMu.Unlock()
		delete(st.holds, p.HoldID)

	case wire.TypeAllocCommitted:
		var p wire.AllocCommitted
		if err := ev.DecodePayload(&p); err != nil {
			slog.Error("apply: bad alloc.committed payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
			return
		}
		e.tableMu.Lock()
		if _, ok := e.allocs[p.AllocationID]; !ok {
			e.allocs[p.AllocationID] = &Allocation{
				ID:        p.AllocationID,
				HoldID:    p.HoldID,
				Resources: p.Resources,
				Demands:   p.Demands,
				Interval:  p.Interval,
				State:     AllocCommitted,
			}
		}
		if h, ok := e.holds[p.HoldID]; ok && h.State == HoldActive {
			h.State = HoldConfirmed
		}
		e.tableMu.Unlock()
		delete(st.holds, p.HoldID)
		st.alloc.AddInterval(p.Interval.Start.Time(), p.Interval.End.Time(), p.Demand)

	case wire.TypeAllocCanceled:
		var p wire.AllocCanceled
		if err := ev.DecodePayload(&p); err != nil {
			slog.Error("apply: bad alloc.canceled payload", "resource", ev.Resource, "seq", ev.Seq, "error", err)
			return
		}
		e.tableMu.Lock()
		a, ok := e.allocs[p.AllocationID]
		if ok {
			a.State = AllocCanceled
		}
		e.tableMu.Unlock()
		if ok {
			st.alloc.AddInterval(a.Interval.Start.Time(), a.Interval.End.Time(), -a.DemandOn(ev.Resource))
		}

	default:
		slog.Error("apply: unknown event type", "type", ev.Type, "resource", ev.Resource, "seq", ev.Seq)
	}
}
