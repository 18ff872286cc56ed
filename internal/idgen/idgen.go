// Package idgen mints the random identifiers used across the engine:
// prefixed resource IDs (ent_, app_, txn_, esc_, dsp_, wh_, evt_) and
// raw hex tokens for webhook signing secrets.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns numBytes of cryptographic randomness, hex encoded.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
