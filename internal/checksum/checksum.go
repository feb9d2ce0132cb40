// Package checksum hashes identifiers so raw CPFs never reach storage.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Identifier returns the stored hash for an identifier or node id.
func Identifier(id string) string {
	return Sum([]byte(id))
}
