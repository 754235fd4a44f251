package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// ErrIdemExists reports that the idempotency key already has a
// committed outcome. The caller re-reads the stored outcome and decides
// between replay and conflict.
var ErrIdemExists = errors.New("idempotency key already committed")

// ErrSeqConflict reports a duplicate (resource, seq) append. The engine
// serializes appends per resource, so this only fires if two engines
// share one database file.
var ErrSeqConflict = errors.New("sequence already committed")

// AppendCommand atomically appends a command's events across all of its
// resources and records the idempotency outcome, in one transaction.
// Either everything commits or nothing does; partial appends from a
// multi-resource command can never become visible.
//
// The caller assigns each event's Seq as seqHi(resource)+1 under that
// resource's lock before calling. idem may be empty for
// engine-originated events (lazy expiry emission), in which case no
// idempotency row is written.
func (s *Store) AppendCommand(ctx context.Context, events []wire.Event, idem ids.IdempotencyKey, commandHash string, outcome []byte) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if idem != "" {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO idempotency (key, command_hash, outcome)
				VALUES (?, ?, ?)
			`, string(idem), commandHash, string(outcome))
			if err != nil {
				if isUniqueViolation(err) {
					return ErrIdemExists
				}
				return fmt.Errorf("write idempotency %s: %w", idem, err)
			}
		}

		for _, ev := range events {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendEvents appends engine-originated events (no idempotency key) in
// one transaction. Used for lazy hold-expiry emission and sweeps.
func (s *Store) AppendEvents(ctx context.Context, events []wire.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.Tx(ctx, func(tx *sql.Tx) error {
		for _, ev := range events {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev wire.Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (resource, seq, type, ts, source_idem, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(ev.Resource),
		ev.Seq,
		ev.Type,
		ev.TS.String(),
		string(ev.SourceIdem),
		string(ev.Payload),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append %s seq %d: %w", ev.Resource, ev.Seq, ErrSeqConflict)
		}
		return fmt.Errorf("append %s seq %d: %w", ev.Resource, ev.Seq, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite primary-key or
// unique-constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
