// Package integrity implements the keyed digest protecting stored entities
// against out-of-band modification. The digest is short (8 bytes) and uses a
// low, fixed iteration count: the secret never leaves the process, so the
// threat model is "detect unauthorized direct datastore edits", not
// "resist offline brute force". Do not reuse this primitive where the
// stronger guarantee is needed.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 1995
	digestLen  = 8
)

// Hashable is implemented by entities that participate in integrity
// protection. The payload must contain every public field except the stored
// hash itself; map keys are serialized in sorted order by encoding/json,
// which gives the canonical form required for reproducible digests.
type Hashable interface {
	HashPayload() map[string]any
}

// Hasher derives integrity digests keyed with the process-wide secret.
type Hasher struct {
	secret []byte
}

// NewHasher constructs a Hasher. The secret is required.
func NewHasher(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, errors.New("integrity: secret is required")
	}
	return &Hasher{secret: []byte(secret)}, nil
}

// SecureString derives the hex-encoded digest of a raw string. The same
// primitive secures passwords before storage and audit records after
// execution.
func (h *Hasher) SecureString(s string) string {
	sum := pbkdf2.Key([]byte(s), h.secret, iterations, digestLen, sha256.New)
	return hex.EncodeToString(sum)
}

// Sum computes the digest of an entity's canonical payload.
func (h *Hasher) Sum(entity Hashable) (string, error) {
	data, err := json.Marshal(entity.HashPayload())
	if err != nil {
		return "", fmt.Errorf("integrity: marshal payload: %w", err)
	}
	return h.SecureString(string(data)), nil
}

// Verify recomputes the digest and compares it to the stored value.
// A mismatch marks the entity compromised.
func (h *Hasher) Verify(entity Hashable, stored string) bool {
	sum, err := h.Sum(entity)
	if err != nil {
		return false
	}
	return Equal(sum, stored)
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
