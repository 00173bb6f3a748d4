// Package sha256 provides SHA-256 based identity keys for pipeline items.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ItemIDLength is the number of hex characters kept for item filenames.
// Long enough to avoid collisions across a date partition, short enough
// to keep paths readable.
const ItemIDLength = 8

// Hasher derives deterministic identity keys from item content.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns the full hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ItemID returns the stable short identity key for a string such as a
// URL. The same input always yields the same key, which is what makes
// rerunning a stage over a date partition idempotent.
func (h *Hasher) ItemID(s string) string {
	return h.Hash([]byte(s))[:ItemIDLength]
}
