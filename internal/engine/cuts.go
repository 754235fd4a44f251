package engine

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// Cut is an immutable cross-resource watermark: each listed resource
// mapped to its seqHi at capture (-1 for an empty partition).
type Cut struct {
	ID       ids.CutID
	Seqs     map[ids.ResourceID]int64
	IssuedAt wire.Instant
}

// Cut retention defaults: keep the newest 1024 cuts, and never evict a
// cut younger than 150s (5x the default heartbeat interval), which is
// long enough for a snapshot+tail handshake.
const (
	defaultCutEntries   = 1024
	defaultCutRetention = 150 * time.Second
)

// cutLedger holds issued cuts with bounded retention.
type cutLedger struct {
	mu           sync.Mutex
	cuts         map[ids.CutID]*Cut
	order        []ids.CutID // issue order, oldest first
	maxEntries   int
	minRetention time.Duration
}

func newCutLedger(maxEntries int, minRetention time.Duration) *cutLedger {
	return &cutLedger{
		cuts:         make(map[ids.CutID]*Cut),
		maxEntries:   maxEntries,
		minRetention: minRetention,
	}
}

func (l *cutLedger) add(c *Cut, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cuts[c.ID] = c
	l.order = append(l.order, c.ID)

	// Evict oldest entries beyond the cap, but only once they are past
	// the minimum retention window.
	for len(l.order) > l.maxEntries {
		oldest := l.cuts[l.order[0]]
		if oldest != nil && now.Sub(oldest.IssuedAt.Time()) < l.minRetention {
			break
		}
		delete(l.cuts, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *cutLedger) get(id ids.CutID) (*Cut, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cuts[id]
	return c, ok
}

// CreateCut processes cut.create: capture seqHi for each listed
// resource. Each seqHi is read under its resource's lock with no
// cross-resource coordination; the cut is strictly-before any later
// observation, which is all snapshot+tail joining requires. Writers are
// never blocked across resources.
func (e *Engine) CreateCut(ctx context.Context, q wire.CutCreate) (*wire.CutCreated, error) {
	if err := q.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}

	now := e.clock.Now()
	seqs := make(map[ids.ResourceID]int64, len(q.Resources))
	for _, r := range q.Resources {
		mu := e.lockFor(r)
		mu.Lock()
		seqs[r] = e.stateFor(r).seqHi
		mu.Unlock()
	}

	cut := &Cut{
		ID:       ids.CutID(e.minter.Mint()),
		Seqs:     seqs,
		IssuedAt: wire.At(now),
	}
	e.cuts.add(cut, now)

	return &wire.CutCreated{
		CutID:    cut.ID,
		Seqs:     cut.Seqs,
		IssuedAt: cut.IssuedAt,
	}, nil
}
