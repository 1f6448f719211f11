// Package password hashes and verifies user passwords with bcrypt.
//
// Hashing is CPU-bound and intentionally slow. Callers run it on the request
// goroutine; it never touches the network and never logs its input.
package password

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is used when the configured cost is zero.
const DefaultCost = 12

// maxPasswordBytes is the bcrypt input limit; longer input would be truncated.
const maxPasswordBytes = 72

// Hasher hashes passwords with a fixed bcrypt work factor.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a Hasher using cost, clamped to bcrypt's valid range.
// It precomputes a dummy hash used by Equalize.
func NewHasher(cost int) (*Hasher, error) {
	switch {
	case cost == 0:
		cost = DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(common.MustRandHex(16)), cost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Cost returns the work factor new hashes are created with.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns the bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", common.ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify compares plaintext with hash in constant time. A mismatch is
// (false, nil); a hash that is not a valid bcrypt string is
// (false, common.ErrMalformedHash).
func (h *Hasher) Verify(plaintext, hash string) (bool, error) {
	if len(plaintext) > maxPasswordBytes {
		// Hash never accepts such input, so it cannot match.
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", common.ErrMalformedHash, err)
	}
}

// NeedsRehash reports whether hash was produced with a different cost than
// the one configured. Malformed hashes report true.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost
}

// Equalize burns the same CPU time as a real Verify. It is called when the
// handle does not exist so lookups cannot be told apart by latency.
func (h *Hasher) Equalize(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
