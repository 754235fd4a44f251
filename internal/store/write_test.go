package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

const testResource = ids.ResourceID("urn:tap:resource:room-a")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(resource ids.ResourceID, seq int64, typ string, idem ids.IdempotencyKey) wire.Event {
	ts, _ := wire.ParseInstant("2026-01-05T09:00:00Z")
	return wire.Event{
		Resource:   resource,
		Seq:        seq,
		Type:       typ,
		TS:         ts,
		SourceIdem: idem,
		Payload:    json.RawMessage(`{"k":"v"}`),
	}
}

func TestAppendCommand_WritesEventsAndOutcome(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	events := []wire.Event{testEvent(testResource, 0, "supply.delta.applied", "K1")}
	if err := s.AppendCommand(ctx, events, "K1", "hash-1", []byte(`{"events":[]}`)); err != nil {
		t.Fatalf("AppendCommand: %v", err)
	}

	hi, err := s.SeqHi(ctx, testResource)
	if err != nil {
		t.Fatal(err)
	}
	if hi != 0 {
		t.Errorf("SeqHi = %d, want 0", hi)
	}

	hash, outcome, ok, err := s.LookupIdempotency(ctx, "K1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("idempotency record not found")
	}
	if hash != "hash-1" {
		t.Errorf("hash = %q", hash)
	}
	if string(outcome) != `{"events":[]}` {
		t.Errorf("outcome = %s", outcome)
	}
}

func TestAppendCommand_DuplicateKeyRollsBackEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []wire.Event{testEvent(testResource, 0, "supply.delta.applied", "K1")}
	if err := s.AppendCommand(ctx, first, "K1", "hash-1", []byte(`{}`)); err != nil {
		t.Fatalf("first append: %v", err)
	}

	// Same key again: the idempotency insert conflicts and the whole
	// transaction rolls back, including the event at seq 1.
	second := []wire.Event{testEvent(testResource, 1, "supply.delta.applied", "K1")}
	err := s.AppendCommand(ctx, second, "K1", "hash-1", []byte(`{}`))
	if !errors.Is(err, ErrIdemExists) {
		t.Fatalf("err = %v, want ErrIdemExists", err)
	}

	hi, err := s.SeqHi(ctx, testResource)
	if err != nil {
		t.Fatal(err)
	}
	if hi != 0 {
		t.Errorf("SeqHi = %d after rollback, want 0", hi)
	}
}

func TestAppendCommand_SeqConflictRollsBackAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r2 := ids.ResourceID("urn:tap:resource:room-b")

	if err := s.AppendCommand(ctx, []wire.Event{testEvent(testResource, 0, "hold.placed", "K1")}, "K1", "h1", []byte(`{}`)); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	// Multi-resource batch where the second record collides: nothing
	// from the batch may survive.
	batch := []wire.Event{
		testEvent(r2, 0, "hold.placed", "K2"),
		testEvent(testResource, 0, "hold.placed", "K2"),
	}
	err := s.AppendCommand(ctx, batch, "K2", "h2", []byte(`{}`))
	if !errors.Is(err, ErrSeqConflict) {
		t.Fatalf("err = %v, want ErrSeqConflict", err)
	}

	hi, err := s.SeqHi(ctx, r2)
	if err != nil {
		t.Fatal(err)
	}
	if hi != -1 {
		t.Errorf("SeqHi(%s) = %d after rollback, want -1", r2, hi)
	}
	if _, _, ok, _ := s.LookupIdempotency(ctx, "K2"); ok {
		t.Error("idempotency record for failed batch survived rollback")
	}
}

func TestAppendEvents_NoIdempotencyRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendEvents(ctx, []wire.Event{testEvent(testResource, 0, "hold.released", "")}); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if err := s.AppendEvents(ctx, nil); err != nil {
		t.Errorf("empty AppendEvents: %v", err)
	}

	events, err := s.Read(ctx, testResource, -1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SourceIdem != "" {
		t.Errorf("events = %+v", events)
	}
}

func TestRead_StrictlyAfterInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for seq := int64(0); seq < 5; seq++ {
		ev := testEvent(testResource, seq, "supply.delta.applied", "")
		if err := s.AppendEvents(ctx, []wire.Event{ev}); err != nil {
			t.Fatalf("append seq %d: %v", seq, err)
		}
	}

	events, err := s.Read(ctx, testResource, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i)+2 {
			t.Errorf("events[%d].Seq = %d, want %d", i, ev.Seq, i+2)
		}
	}

	limited, err := s.Read(ctx, testResource, -1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].Seq != 0 || limited[1].Seq != 1 {
		t.Errorf("limited = %+v", limited)
	}
}

func TestRead_EmptyPartition(t *testing.T) {
	s := openTestStore(t)

	events, err := s.Read(context.Background(), testResource, -1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("events = %#v, want empty non-nil slice", events)
	}

	hi, err := s.SeqHi(context.Background(), testResource)
	if err != nil {
		t.Fatal(err)
	}
	if hi != -1 {
		t.Errorf("SeqHi on empty partition = %d, want -1", hi)
	}
}

func TestReadAll_GlobalCommitOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r2 := ids.ResourceID("urn:tap:resource:room-b")
	if err := s.AppendEvents(ctx, []wire.Event{testEvent(testResource, 0, "a", "")}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvents(ctx, []wire.Event{testEvent(r2, 0, "b", "")}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvents(ctx, []wire.Event{testEvent(testResource, 1, "c", "")}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d", len(all))
	}
	if all[0].Type != "a" || all[1].Type != "b" || all[2].Type != "c" {
		t.Errorf("commit order lost: %v %v %v", all[0].Type, all[1].Type, all[2].Type)
	}
}

func TestLookupIdempotency_Missing(t *testing.T) {
	s := openTestStore(t)

	_, _, ok, err := s.LookupIdempotency(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("found record for absent key")
	}
}
