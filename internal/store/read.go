package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// SeqHi returns the latest committed sequence for a resource, or -1 if
// the resource has no events.
func (s *Store) SeqHi(ctx context.Context, resource ids.ResourceID) (int64, error) {
	var hi sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM events WHERE resource = ?
	`, string(resource)).Scan(&hi)
	if err != nil {
		return -1, fmt.Errorf("seqHi %s: %w", resource, err)
	}
	if !hi.Valid {
		return -1, nil
	}
	return hi.Int64, nil
}

// Read returns in-order events for a resource strictly after afterSeq.
// limit <= 0 means no limit. Pass afterSeq = -1 to read from the start.
func (s *Store) Read(ctx context.Context, resource ids.ResourceID, afterSeq int64, limit int) ([]wire.Event, error) {
	q := `
		SELECT resource, seq, type, ts, source_idem, payload
		FROM events
		WHERE resource = ? AND seq > ?
		ORDER BY seq ASC
	`
	args := []any{string(resource), afterSeq}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s after %d: %w", resource, afterSeq, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadAll returns every event in global commit (rowid) order. Used to
// rebuild projections on startup.
func (s *Store) ReadAll(ctx context.Context) ([]wire.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource, seq, type, ts, source_idem, payload
		FROM events
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read all events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]wire.Event, error) {
	var events []wire.Event
	for rows.Next() {
		var (
			resource, typ, ts, sourceIdem, payload string
			seq                                    int64
		)
		if err := rows.Scan(&resource, &seq, &typ, &ts, &sourceIdem, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		instant, err := wire.ParseInstant(ts)
		if err != nil {
			return nil, fmt.Errorf("scan event ts: %w", err)
		}
		events = append(events, wire.Event{
			Resource:   ids.ResourceID(resource),
			Seq:        seq,
			Type:       typ,
			TS:         instant,
			SourceIdem: ids.IdempotencyKey(sourceIdem),
			Payload:    json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	// Return empty slice instead of nil
	if events == nil {
		events = []wire.Event{}
	}

	return events, nil
}

// LookupIdempotency returns the stored command hash and outcome for a
// key. ok is false when the key has never committed.
func (s *Store) LookupIdempotency(ctx context.Context, key ids.IdempotencyKey) (commandHash string, outcome []byte, ok bool, err error) {
	var out string
	err = s.db.QueryRowContext(ctx, `
		SELECT command_hash, outcome FROM idempotency WHERE key = ?
	`, string(key)).Scan(&commandHash, &out)
	if err == sql.ErrNoRows {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("lookup idempotency %s: %w", key, err)
	}
	return commandHash, []byte(out), true, nil
}
