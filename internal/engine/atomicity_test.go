package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// Scenario S5: a multi-resource hold where one resource lacks capacity
// commits nothing on any resource.
func TestMultiResourceHoldAtomicity(t *testing.T) {
	e, s, _ := newTestEngine(t)
	ctx := context.Background()

	seedSupply(t, e, resA, 1, "K0")
	// resB gets no supply: demand 1 is infeasible there.

	_, err := e.PlaceHold(ctx, wire.HoldPlace{
		Resources: []ids.ResourceID{resA, resB},
		Interval:  iv(10, 0, 11, 0),
		Demands:   []int64{1, 1},
		TTLSec:    600,
		Idem:      "K1",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, wire.CodeCapacityViolation), "got %v", err)

	aEvents, err := s.Read(ctx, resA, -1, 0)
	require.NoError(t, err)
	require.Len(t, aEvents, 1) // only the supply seed
	bEvents, err := s.Read(ctx, resB, -1, 0)
	require.NoError(t, err)
	assert.Empty(t, bEvents)

	// The failed command left no idempotency record either, so a
	// corrected retry with the same key is not a conflict... the key
	// was never bound.
	_, _, ok, err := s.LookupIdempotency(ctx, "K1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMultiResourceHoldCommitsOnAll(t *testing.T) {
	e, s, _ := newTestEngine(t)
	ctx := context.Background()

	seedSupply(t, e, resA, 1, "K0a")
	seedSupply(t, e, resB, 2, "K0b")

	placed, err := e.PlaceHold(ctx, wire.HoldPlace{
		Resources: []ids.ResourceID{resB, resA}, // unsorted on purpose
		Interval:  iv(10, 0, 11, 0),
		Demands:   []int64{2, 1},
		TTLSec:    600,
		Idem:      "K1",
	})
	require.NoError(t, err)
	require.Len(t, placed.Events, 2)

	var holdID ids.HoldID
	for _, ev := range placed.Events {
		var p wire.HoldPlaced
		require.NoError(t, ev.DecodePayload(&p))
		if holdID == "" {
			holdID = p.HoldID
		}
		assert.Equal(t, holdID, p.HoldID, "same holdId on every resource")
		assert.Equal(t, ev.Resource, p.Resource)
	}

	confirmed, err := e.ConfirmHold(ctx, wire.HoldConfirm{HoldID: holdID, Idem: "K2"})
	require.NoError(t, err)
	require.Len(t, confirmed.Events, 2)
	for _, ev := range confirmed.Events {
		assert.Equal(t, wire.TypeAllocCommitted, ev.Type)
	}

	aHi, err := s.SeqHi(ctx, resA)
	require.NoError(t, err)
	bHi, err := s.SeqHi(ctx, resB)
	require.NoError(t, err)
	assert.Equal(t, int64(2), aHi)
	assert.Equal(t, int64(2), bHi)
}

// Scenario S6: concurrent commands on one resource get consecutive
// seqs with no gaps and no reuse.
func TestPerResourceOrderingUnderConcurrency(t *testing.T) {
	e, s, _ := newTestEngine(t)
	ctx := context.Background()

	seedSupply(t, e, resA, 1, "K0")

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.ApplySupplyDelta(ctx, wire.SupplyDelta{
				Resource: resA,
				Interval: iv(9, 0, 17, 0),
				Delta:    1,
				Idem:     ids.IdempotencyKey("KC-" + string(rune('a'+i))),
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	events, err := s.Read(ctx, resA, -1, 0)
	require.NoError(t, err)
	require.Len(t, events, writers+1)
	for i, ev := range events {
		assert.Equal(t, int64(i), ev.Seq, "gap or reuse at index %d", i)
	}
}
