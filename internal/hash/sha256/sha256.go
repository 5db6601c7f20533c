// Package sha256 derives content digests for archive object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes with SHA-256 and hex-encodes the digest.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
