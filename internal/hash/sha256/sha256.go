// Package sha256 derives deterministic artifact name prefixes from source URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements gateway.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Short returns the first n hex characters of the digest of s.
// n is clamped to the digest length.
func (h *Hasher) Short(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	digest := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
