// Package checksum fingerprints note sources and image payloads.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is the number of hex digits Short keeps.
const ShortLen = 16

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short is a prefix of Sum, long enough to name uploaded files.
func Short(data []byte) string {
	return Sum(data)[:ShortLen]
}
