package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint joins parts with "|" and returns their SHA-256 as lowercase hex.
// Idempotency and webhook replay keys are built from it.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
