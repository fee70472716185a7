// Package sha256 provides SHA-256 digests used to build archive object paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher returns hex SHA-256 digests, optionally truncated.
type Hasher struct {
	length int
}

// New returns a hasher producing the full 64-character digest.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher keeping the first n hex characters.
func NewTruncated(n int) *Hasher {
	return &Hasher{length: n}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		digest = digest[:h.length]
	}
	return digest, nil
}
