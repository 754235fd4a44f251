package wire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestInstant_CanonicalForm(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2026-01-05T09:00:00Z", "2026-01-05T09:00:00Z"},
		{"2026-01-05T09:00:00.000Z", "2026-01-05T09:00:00Z"},
		{"2026-01-05T09:00:00.500Z", "2026-01-05T09:00:00.5Z"},
		{"2026-01-05T09:00:00.123456789Z", "2026-01-05T09:00:00.123456789Z"},
		{"2026-01-05T10:00:00+01:00", "2026-01-05T09:00:00Z"},
	}
	for _, tc := range cases {
		i, err := ParseInstant(tc.in)
		if err != nil {
			t.Fatalf("ParseInstant(%q): %v", tc.in, err)
		}
		if got := i.String(); got != tc.want {
			t.Errorf("ParseInstant(%q).String() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInstant_CanonicalizationIdempotent(t *testing.T) {
	i, err := ParseInstant("2026-01-05T09:00:00.120Z")
	if err != nil {
		t.Fatal(err)
	}
	again, err := ParseInstant(i.String())
	if err != nil {
		t.Fatal(err)
	}
	if i.String() != again.String() {
		t.Errorf("canonicalization not idempotent: %q vs %q", i.String(), again.String())
	}
}

func TestInstant_JSONRoundTrip(t *testing.T) {
	i := At(time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC))
	data, err := json.Marshal(i)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2026-01-05T09:30:00Z"` {
		t.Errorf("marshal = %s", data)
	}

	var back Instant
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(i) {
		t.Errorf("round trip changed instant: %v vs %v", back, i)
	}
}

func TestInstant_RejectsNonString(t *testing.T) {
	var i Instant
	if err := json.Unmarshal([]byte(`12345`), &i); err == nil {
		t.Error("expected error for non-string instant")
	}
}

func TestInterval_Validate(t *testing.T) {
	start := At(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	end := At(time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC))

	if err := (Interval{Start: start, End: end}).Validate(); err != nil {
		t.Errorf("valid interval rejected: %v", err)
	}
	if err := (Interval{Start: start, End: start}).Validate(); err == nil {
		t.Error("empty interval (start==end) accepted")
	}
	if err := (Interval{Start: end, End: start}).Validate(); err == nil {
		t.Error("inverted interval accepted")
	}
}

func TestInterval_Contains(t *testing.T) {
	iv := Interval{
		Start: At(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
		End:   At(time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC)),
	}
	if !iv.Contains(iv.Start) {
		t.Error("interval must include its start")
	}
	if iv.Contains(iv.End) {
		t.Error("interval must exclude its end")
	}
}
