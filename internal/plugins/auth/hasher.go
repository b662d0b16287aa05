package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the work factor used for stored hashes.
const DefaultBcryptCost = 10

// Hasher hashes and verifies passwords and one-time codes.
//
// Secrets are prehashed with SHA-256 before bcrypt so inputs longer than
// bcrypt's 72-byte limit are not silently truncated.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost. Costs outside
// bcrypt's accepted range fall back to DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Hasher{cost: cost}
}

// Prehash returns the lowercase hex SHA-256 digest of secret.
func (h *Hasher) Prehash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Hash returns a salted bcrypt hash of an already prehashed secret.
func (h *Hasher) Hash(prehashed string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(prehashed), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(out), nil
}

// HashSecret prehashes and hashes secret in one step.
func (h *Hasher) HashSecret(secret string) (string, error) {
	return h.Hash(h.Prehash(secret))
}

// Verify reports whether prehashed matches stored. A malformed stored hash
// is treated as a mismatch.
func (h *Hasher) Verify(prehashed, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(prehashed)) == nil
}

// VerifySecret prehashes secret and compares it against stored.
func (h *Hasher) VerifySecret(secret, stored string) bool {
	return h.Verify(h.Prehash(secret), stored)
}
