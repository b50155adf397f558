package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Supported hash algorithms.
const (
	HashSHA256 = "sha256"
	HashBcrypt = "bcrypt"
)

// Hasher hashes and compares API key values.
type Hasher interface {
	// Hash returns the digest of the plaintext value, or "" when the
	// algorithm cannot hash deterministically.
	Hash(value string) string

	// Compare reports whether the plaintext value matches the stored
	// hash.
	Compare(hash, value string) bool
}

// SHA256Hasher hashes keys with SHA-256, hex encoded. Deterministic,
// so lookups are a single digest computation plus a map access.
type SHA256Hasher struct{}

// Hash implements Hasher.
func (SHA256Hasher) Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Compare implements Hasher with a constant-time comparison.
func (h SHA256Hasher) Compare(hash, value string) bool {
	computed := h.Hash(value)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(computed)) == 1
}

// BcryptHasher compares keys against bcrypt hashes. Bcrypt is salted,
// so there is no deterministic digest and validation scans the store.
type BcryptHasher struct{}

// Hash implements Hasher. Bcrypt digests are salted; no lookup digest
// exists.
func (BcryptHasher) Hash(string) string { return "" }

// Compare implements Hasher.
func (BcryptHasher) Compare(hash, value string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(value)) == nil
}

// NewHasher returns the hasher for the named algorithm, defaulting to
// SHA-256.
func NewHasher(algorithm string) Hasher {
	if algorithm == HashBcrypt {
		return BcryptHasher{}
	}
	return SHA256Hasher{}
}
