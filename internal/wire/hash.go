package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefix for content-addressed command identity. The version
// suffix enables future algorithm migration.
const DomainCommand = "tap/command/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + type + 0x00 + data). The null byte
// separators prevent boundary ambiguity between the parts.
func hashWithDomain(domain, typ string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write([]byte(typ))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommandHash computes the content hash binding an idempotency key to a
// canonical command body. A replay with the same key and hash returns
// the stored outcome; a replay with the same key and a different hash
// is a conflict.
//
// The hash covers the type discriminant and the payload in canonical
// JSON, so field order and whitespace in the incoming request do not
// matter.
func CommandHash(cmdType string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("CommandHash: marshal %s: %w", cmdType, err)
	}
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return "", fmt.Errorf("CommandHash: %s: %w", cmdType, err)
	}
	return hashWithDomain(DomainCommand, cmdType, canonical), nil
}

// MustCommandHash is like CommandHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCommandHash(cmdType string, payload any) string {
	h, err := CommandHash(cmdType, payload)
	if err != nil {
		panic(err)
	}
	return h
}
