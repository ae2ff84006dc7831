// Package fingerprint computes content hashes for source rows. Intake uses
// the hash to tell a genuinely changed row from a mere re-observation.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Row hashes the payload fields of a source row. Whitespace and case are
// folded so cosmetic re-exports don't look like changes. The natural key is
// deliberately excluded: the hash describes content, not identity.
func Row(name, phone, email, address string) string {
	parts := []string{
		canonical(name),
		canonical(phone),
		canonical(email),
		canonical(address),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// HasChanged compares two fingerprints to detect content changes.
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

func canonical(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
