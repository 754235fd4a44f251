package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

const subResource = ids.ResourceID("urn:tap:resource:room-a")

func frame(resource ids.ResourceID, seq int64, typ string) wire.Event {
	return wire.Event{
		Resource: resource,
		Seq:      seq,
		Type:     typ,
		TS:       wire.At(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
		Payload:  json.RawMessage(`{}`),
	}
}

func recv(t *testing.T, sub *Subscription) wire.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "stream closed unexpectedly")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return wire.Event{}
	}
}

func newTestSub(m *Mux, heartbeat time.Duration) *Subscription {
	return m.NewSubscription("sub-1", []ids.ResourceID{subResource},
		map[ids.ResourceID]int64{subResource: -1},
		heartbeat,
		func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) },
	)
}

func TestSubscription_DeliversInOrder(t *testing.T) {
	m := NewMux()
	sub := newTestSub(m, time.Hour)
	defer sub.Close()
	m.Attach(sub)

	for seq := int64(0); seq < 3; seq++ {
		m.Publish(frame(subResource, seq, "supply.delta.applied"))
	}
	for want := int64(0); want < 3; want++ {
		assert.Equal(t, want, recv(t, sub).Seq)
	}
}

func TestSubscription_WatermarkDropsDuplicates(t *testing.T) {
	m := NewMux()
	sub := newTestSub(m, time.Hour)
	defer sub.Close()
	m.Attach(sub)

	m.Publish(frame(subResource, 0, "a"))
	m.Publish(frame(subResource, 0, "a")) // duplicate
	m.Publish(frame(subResource, 1, "b"))

	assert.Equal(t, int64(0), recv(t, sub).Seq)
	assert.Equal(t, int64(1), recv(t, sub).Seq)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra frame: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscription_IgnoresOtherResources(t *testing.T) {
	m := NewMux()
	sub := newTestSub(m, time.Hour)
	defer sub.Close()
	m.Attach(sub)

	m.Publish(frame("urn:tap:resource:other", 0, "a"))
	m.Publish(frame(subResource, 0, "b"))

	ev := recv(t, sub)
	assert.Equal(t, subResource, ev.Resource)
}

func TestSubscription_PreloadBeforeAttach(t *testing.T) {
	m := NewMux()
	sub := newTestSub(m, time.Hour)
	defer sub.Close()

	sub.Push(frame(subResource, 0, "preloaded"))
	m.Attach(sub)
	m.Publish(frame(subResource, 1, "live"))

	assert.Equal(t, "preloaded", recv(t, sub).Type)
	assert.Equal(t, "live", recv(t, sub).Type)
}

func TestSubscription_HeartbeatOnSilence(t *testing.T) {
	m := NewMux()
	sub := newTestSub(m, 20*time.Millisecond)
	defer sub.Close()
	m.Attach(sub)

	ev := recv(t, sub)
	require.Equal(t, wire.TypeStreamHeartbeat, ev.Type)
	assert.Equal(t, NonLogSeq, ev.Seq)

	var hb wire.StreamHeartbeat
	require.NoError(t, ev.DecodePayload(&hb))
	assert.Equal(t, "2026-01-05T09:00:00Z", hb.TS.String())
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	m := NewMux()
	sub := newTestSub(m, time.Hour)
	m.Attach(sub)
	require.Equal(t, 1, m.Len())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, m.Len())

	// Push after close is a no-op.
	sub.Push(frame(subResource, 0, "late"))

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}
