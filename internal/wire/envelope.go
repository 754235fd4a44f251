// Package wire defines the protocol surface of the allocation engine:
// the message envelope, command/event/query payloads, canonical JSON
// used for idempotency hashing, and the closed error-code set.
//
// Discriminants (the Kind + Type pair) are forever verbs: append-only,
// never renamed or reused. New optional fields may be added to any
// payload; removing or repurposing an existing field is forbidden.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/tap/internal/ids"
)

// Kind selects the envelope category.
type Kind string

const (
	KindCommand Kind = "cmd"
	KindEvent   Kind = "evt"
	KindQuery   Kind = "qry"
	KindReply   Kind = "rpy"
	KindError   Kind = "err"
)

// Type discriminants. Each selects exactly one payload shape.
const (
	// Commands.
	TypeSupplyDelta = "supply.delta"
	TypeHoldPlace   = "hold.place"
	TypeHoldConfirm = "hold.confirm"
	TypeHoldRelease = "hold.release"
	TypeAllocCancel = "alloc.cancel"

	// Events.
	TypeSupplyDeltaApplied = "supply.delta.applied"
	TypeHoldPlaced         = "hold.placed"
	TypeHoldReleased       = "hold.released"
	TypeAllocCommitted     = "alloc.committed"
	TypeAllocCanceled      = "alloc.canceled"
	TypeStateBootstrap     = "state.bootstrap"
	TypeStreamHeartbeat    = "stream.heartbeat"

	// Queries and replies.
	TypeFeasibleCheck  = "feasible.check"
	TypeFeasibleResult = "feasible.result"
	TypeFreeBusyGet    = "freebusy.get"
	TypeFreeBusyData   = "freebusy.data"
	TypeCutCreate      = "cut.create"
	TypeCutCreated     = "cut.created"
	TypeStateSnapshot  = "state.snapshot"
	TypeStreamOpen     = "stream.open"
	TypeStreamOpened   = "stream.opened"
)

// Envelope is the outer frame of every exchanged message.
//
// Issuer identifies the sending node, Subj the acting principal. Corr
// and Caus thread request/response and causality chains. Sig carries a
// detached signature applied by the transport; the core never signs or
// verifies.
type Envelope struct {
	V       int             `json:"v"`
	ID      string          `json:"id"`
	TS      Instant         `json:"ts"`
	Issuer  string          `json:"issuer"`
	Subj    string          `json:"subj,omitempty"`
	Corr    string          `json:"corr,omitempty"`
	Caus    string          `json:"caus,omitempty"`
	Kind    Kind            `json:"kind"`
	Type    string          `json:"type"`
	Meta    map[string]string `json:"meta,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Sig     string          `json:"sig,omitempty"`
}

// Version is the current envelope version.
const Version = 1

// NewEnvelope builds an envelope around a payload.
func NewEnvelope(id string, ts Instant, issuer string, kind Kind, typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		V:       Version,
		ID:      id,
		TS:      ts,
		Issuer:  issuer,
		Kind:    kind,
		Type:    typ,
		Payload: raw,
	}, nil
}

// Validate checks the envelope frame (not the payload shape).
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("envelope: unsupported version %d", e.V)
	}
	if e.ID == "" {
		return fmt.Errorf("envelope: missing id")
	}
	if e.Issuer == "" {
		return fmt.Errorf("envelope: missing issuer")
	}
	switch e.Kind {
	case KindCommand, KindEvent, KindQuery, KindReply, KindError:
	default:
		return fmt.Errorf("envelope: unknown kind %q", e.Kind)
	}
	if e.Type == "" {
		return fmt.Errorf("envelope: missing type")
	}
	return nil
}

// DecodePayload unmarshals the payload into v, rejecting unknown fields
// so schema violations surface as bad_request instead of silent drops.
func (e Envelope) DecodePayload(v any) error {
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Event is a committed log record: a per-resource ordered fact. Seq is
// the per-resource strictly monotone ordinal assigned at append time.
// SourceIdem echoes the idempotency key of the originating command and
// is empty for engine-originated events (hold expiry).
type Event struct {
	Resource   ids.ResourceID     `json:"resource"`
	Seq        int64              `json:"seq"`
	Type       string             `json:"type"`
	TS         Instant            `json:"ts"`
	SourceIdem ids.IdempotencyKey `json:"sourceIdem,omitempty"`
	Payload    json.RawMessage    `json:"payload"`
}

// DecodePayload unmarshals the event payload into v.
func (ev Event) DecodePayload(v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("decode %s event payload: %w", ev.Type, err)
	}
	return nil
}
