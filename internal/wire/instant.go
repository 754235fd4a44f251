package wire

import (
	"fmt"
	"time"
)

// Instant is a UTC wall-clock point normalized to canonical RFC 3339:
// "Z" suffix, no fractional trailing zeros. All instants entering the
// engine pass through this type, so stored and emitted timestamps are
// byte-stable under re-serialization.
type Instant struct {
	t time.Time
}

// At normalizes a time.Time into an Instant (converted to UTC).
func At(t time.Time) Instant {
	return Instant{t: t.UTC()}
}

// ParseInstant parses an RFC 3339 timestamp and normalizes it.
func ParseInstant(s string) (Instant, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Instant{}, fmt.Errorf("parse instant %q: %w", s, err)
	}
	return At(t), nil
}

// Time returns the underlying UTC time.
func (i Instant) Time() time.Time { return i.t }

// IsZero reports whether the instant is the zero time.
func (i Instant) IsZero() bool { return i.t.IsZero() }

// Before reports whether i is chronologically before o.
func (i Instant) Before(o Instant) bool { return i.t.Before(o.t) }

// After reports whether i is chronologically after o.
func (i Instant) After(o Instant) bool { return i.t.After(o.t) }

// Equal reports whether i and o denote the same instant.
func (i Instant) Equal(o Instant) bool { return i.t.Equal(o.t) }

// Add returns the instant shifted by d.
func (i Instant) Add(d time.Duration) Instant { return Instant{t: i.t.Add(d)} }

// String renders the canonical form. time.RFC3339Nano already trims
// fractional trailing zeros and emits "Z" for UTC.
func (i Instant) String() string {
	return i.t.Format(time.RFC3339Nano)
}

// MarshalJSON emits the canonical string form.
func (i Instant) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.String() + `"`), nil
}

// UnmarshalJSON parses and normalizes; canonicalization is idempotent.
func (i *Instant) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("instant: expected JSON string, got %s", data)
	}
	parsed, err := ParseInstant(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Interval is a half-open time window [Start, End).
type Interval struct {
	Start Instant `json:"start"`
	End   Instant `json:"end"`
}

// Span builds an interval from two times.
func Span(start, end time.Time) Interval {
	return Interval{Start: At(start), End: At(end)}
}

// Validate rejects empty and inverted windows. start == end is an empty
// interval and is rejected.
func (iv Interval) Validate() error {
	if !iv.Start.Before(iv.End) {
		return fmt.Errorf("interval [%s, %s): start must be before end", iv.Start, iv.End)
	}
	return nil
}

// Contains reports whether t falls within [Start, End).
func (iv Interval) Contains(t Instant) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}
