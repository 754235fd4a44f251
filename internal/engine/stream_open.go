package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/stream"
	"github.com/roach88/tap/internal/wire"
)

// Heartbeat bounds. The requested value is clamped into [1, 300]; the
// effective value is echoed in stream.opened.
const (
	minHeartbeatSec     = 1
	maxHeartbeatSec     = 300
	defaultHeartbeatSec = 30
)

// OpenStream processes stream.open: register a subscription over the
// listed resources.
//
// Bootstrap mode (no After, IncludeBootstrap unset or true) issues an
// implicit cut under the resource locks, preloads one state.bootstrap
// frame per resource, and delivers live events with seq > asOfSeq.
// Resume mode (After present) suppresses bootstrap and delivers only
// events strictly after each resume point, reading the backlog from
// the log under the same locks.
//
// Either way the subscription attaches to the multiplexer before the
// locks release, so the handoff has no gap and no duplicate: anything
// committed before attach was preloaded, anything after is published.
func (e *Engine) OpenStream(ctx context.Context, q wire.StreamOpen) (*stream.Subscription, *wire.StreamOpened, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, badRequest("%v", err)
	}

	heartbeatSec := q.HeartbeatSec
	if heartbeatSec == 0 {
		heartbeatSec = defaultHeartbeatSec
	}
	if heartbeatSec < minHeartbeatSec {
		heartbeatSec = minHeartbeatSec
	}
	if heartbeatSec > maxHeartbeatSec {
		heartbeatSec = maxHeartbeatSec
	}

	bootstrap := len(q.After) == 0 && (q.IncludeBootstrap == nil || *q.IncludeBootstrap)

	after := make(map[ids.ResourceID]int64, len(q.After))
	for _, rp := range q.After {
		after[rp.Resource] = rp.SeqHi
	}

	unlock := e.lockAll(q.Resources)
	defer unlock()

	now := e.clock.Now()
	watermarks := make(map[ids.ResourceID]int64, len(q.Resources))
	var preload []wire.Event

	for _, r := range q.Resources {
		st := e.stateFor(r)

		if resume, ok := after[r]; ok {
			if resume > st.seqHi {
				return nil, nil, notFound("resume point %d on %s is beyond the log (seqHi %d)", resume, r, st.seqHi)
			}
			backlog, err := e.store.Read(ctx, r, resume, 0)
			if err != nil {
				return nil, nil, internal(err)
			}
			watermarks[r] = resume
			preload = append(preload, backlog...)
			continue
		}

		// Implicit cut at the resource's current seqHi.
		watermarks[r] = st.seqHi
		if !bootstrap {
			continue
		}
		frame, err := bootstrapFrame(st, now)
		if err != nil {
			return nil, nil, internal(err)
		}
		preload = append(preload, frame)
	}

	subID := e.minter.Mint()
	sub := e.mux.NewSubscription(subID, q.Resources, watermarks,
		time.Duration(heartbeatSec)*time.Second,
		e.clock.Now,
	)
	for _, ev := range preload {
		sub.Push(ev)
	}
	e.mux.Attach(sub)

	slog.Info("stream opened",
		"subscriptionId", subID,
		"resources", len(q.Resources),
		"bootstrap", bootstrap,
		"heartbeatSec", heartbeatSec,
	)

	return sub, &wire.StreamOpened{SubscriptionID: subID, HeartbeatSec: heartbeatSec}, nil
}

// bootstrapFrame builds the state.bootstrap frame for one resource
// from its live timelines. Caller holds the resource lock.
func bootstrapFrame(st *resourceState, now time.Time) (wire.Event, error) {
	payload := wire.StateBootstrap{
		Resource:       st.resource,
		SupplyBase:     st.supply.Baseline(),
		AllocationBase: st.alloc.Baseline(),
		Supply:         []wire.TimelineDelta{},
		Allocation:     []wire.TimelineDelta{},
		AsOfSeq:        st.seqHi,
	}
	for _, d := range st.supply.Deltas() {
		payload.Supply = append(payload.Supply, wire.TimelineDelta{At: wire.At(d.At), Delta: d.D})
	}
	for _, d := range st.alloc.Deltas() {
		payload.Allocation = append(payload.Allocation, wire.TimelineDelta{At: wire.At(d.At), Delta: d.D})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return wire.Event{}, err
	}
	return wire.Event{
		Resource: st.resource,
		Seq:      stream.NonLogSeq,
		Type:     wire.TypeStateBootstrap,
		TS:       wire.At(now),
		Payload:  raw,
	}, nil
}
