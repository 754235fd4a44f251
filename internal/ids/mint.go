package ids

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Minter generates fresh uids for holds, allocations, and cuts.
// Implemented by UUIDv7Minter (production) and FixedMinter (tests).
type Minter interface {
	Mint() string
}

// UUIDv7Minter generates time-sortable UUIDv7 uids.
//
// UUIDv7 embeds a timestamp in the most significant bits, making ids
// sortable by creation time, which keeps hold and allocation ids
// readable in traces.
//
// Thread-safety: UUIDv7Minter is stateless and safe for concurrent use.
type UUIDv7Minter struct{}

// Mint creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Minter) Mint() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedMinter returns predetermined uids for testing.
//
// This enables deterministic test execution and golden trace comparison.
// Tests provide a known sequence of uids and verify exact outputs.
//
// Thread-safety: FixedMinter is safe for concurrent use via internal mutex.
type FixedMinter struct {
	mu   sync.Mutex
	uids []string
	idx  int
}

// NewFixedMinter creates a minter that returns uids in order.
//
// Example:
//
//	m := NewFixedMinter("hold-1", "alloc-1")
//	m.Mint() // "hold-1"
//	m.Mint() // "alloc-1"
//	m.Mint() // panic: all uids exhausted
func NewFixedMinter(uids ...string) *FixedMinter {
	return &FixedMinter{uids: uids}
}

// Mint returns the next predetermined uid.
//
// Panics if all uids have been consumed. This is a fail-fast approach to
// catch test misconfiguration (test minted more ids than expected).
func (m *FixedMinter) Mint() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idx >= len(m.uids) {
		panic("FixedMinter: all uids exhausted")
	}
	uid := m.uids[m.idx]
	m.idx++
	return uid
}

// SeqMinter generates "prefix-1", "prefix-2", ... uids. Useful in tests
// that mint an unbounded number of ids.
type SeqMinter struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqMinter creates a sequential minter with the given prefix.
func NewSeqMinter(prefix string) *SeqMinter {
	return &SeqMinter{prefix: prefix}
}

// Mint returns the next sequential uid.
func (m *SeqMinter) Mint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return m.prefix + "-" + strconv.Itoa(m.n)
}
