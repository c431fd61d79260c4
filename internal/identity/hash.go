// Package identity pseudonymises GitHub logins before they reach any output.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher maps a raw login to a stable, non-reversible identity.
// The zero value hashes without a salt.
type Hasher struct {
	salt string
}

// NewHasher returns a Hasher that prefixes every login with salt before hashing.
func NewHasher(salt string) Hasher {
	return Hasher{salt: salt}
}

// Hash returns the lowercase hex SHA-256 digest of the (salted) login.
func (h Hasher) Hash(raw string) string {
	sum := sha256.Sum256([]byte(h.salt + raw))
	return hex.EncodeToString(sum[:])
}

// HashAll hashes every login in raws, preserving order.
func (h Hasher) HashAll(raws []string) []string {
	out := make([]string, len(raws))
	for i, raw := range raws {
		out[i] = h.Hash(raw)
	}
	return out
}

// Hash hashes raw with an unsalted Hasher.
func Hash(raw string) string {
	return Hasher{}.Hash(raw)
}
