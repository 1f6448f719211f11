package auth

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
)

// retiredKey is a former active key still accepted for verification until
// retiredAt+grace.
type retiredKey struct {
	key       *SigningKey
	retiredAt time.Time
}

// keySet is an immutable snapshot. Readers load it without locking; writers
// build a new one and swap the pointer.
type keySet struct {
	active  *SigningKey
	retired []retiredKey
}

// maxUsedKeyIDs bounds the memory of key ids that were ever active.
const maxUsedKeyIDs = 1024

// KeyRing holds the active signing key and the recently retired ones.
// It is safe for concurrent use; rotation never blocks verification.
type KeyRing struct {
	set         atomic.Pointer[keySet]
	mu          sync.Mutex
	grace       time.Duration
	maxPrevious int
	now         func() time.Time

	// used records every id the ring has held, oldest first, so a pruned
	// id cannot come back. Guarded by mu.
	used    map[string]struct{}
	usedIDs []string
}

// KeyRingOptions tunes retention of retired keys.
type KeyRingOptions struct {
	// Grace is how long a retired key keeps verifying tokens.
	Grace time.Duration
	// MaxPrevious caps the number of retired keys; the oldest are dropped.
	MaxPrevious int
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// NewKeyRing creates a ring signing with active. previous keys are loaded as
// retired at construction time, so they verify for one grace period after
// startup.
func NewKeyRing(active *SigningKey, opts KeyRingOptions, previous ...*SigningKey) (*KeyRing, error) {
	if active == nil {
		return nil, common.ErrNoSigningKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPrevious <= 0 {
		opts.MaxPrevious = 1
	}

	r := &KeyRing{
		grace:       opts.Grace,
		maxPrevious: opts.MaxPrevious,
		now:         opts.Now,
		used:        map[string]struct{}{},
	}

	r.markUsed(active.ID)
	set := &keySet{active: active}
	at := r.now()
	for _, k := range previous {
		if r.wasUsed(k.ID) {
			return nil, fmt.Errorf("duplicate key id %q", k.ID)
		}
		r.markUsed(k.ID)
		set.retired = append(set.retired, retiredKey{key: k, retiredAt: at})
	}
	if len(set.retired) > r.maxPrevious {
		set.retired = set.retired[:r.maxPrevious]
	}
	r.set.Store(set)
	return r, nil
}

// Active returns the key new tokens are signed with.
func (r *KeyRing) Active() *SigningKey {
	return r.set.Load().active
}

// Rotate makes next the active key. The previous active key is retired and
// keeps verifying for the grace period. Rotating to the current key id is
// a no-op; reusing any id the ring held before is rejected, even after it
// was pruned.
func (r *KeyRing) Rotate(next *SigningKey) error {
	if next == nil {
		return common.ErrNoSigningKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.set.Load()
	if cur.active.ID == next.ID {
		return nil
	}
	if r.wasUsed(next.ID) {
		return fmt.Errorf("key id %q was already used", next.ID)
	}
	r.markUsed(next.ID)

	now := r.now()
	retired := make([]retiredKey, 0, len(cur.retired)+1)
	retired = append(retired, retiredKey{key: cur.active, retiredAt: now})
	for _, rk := range cur.retired {
		if r.withinGrace(rk, now) {
			retired = append(retired, rk)
		}
	}
	if len(retired) > r.maxPrevious {
		retired = retired[:r.maxPrevious]
	}

	r.set.Store(&keySet{active: next, retired: retired})
	return nil
}

// Prune drops retired keys whose grace period has elapsed and returns how
// many were removed.
func (r *KeyRing) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.set.Load()
	now := r.now()
	kept := make([]retiredKey, 0, len(cur.retired))
	for _, rk := range cur.retired {
		if r.withinGrace(rk, now) {
			kept = append(kept, rk)
		}
	}
	if len(kept) != len(cur.retired) {
		r.set.Store(&keySet{active: cur.active, retired: kept})
	}
	return len(cur.retired) - len(kept)
}

// Lookup returns the verification key for kid. Retired keys past their
// grace period are rejected even if Prune has not run yet.
func (r *KeyRing) Lookup(kid string) (*SigningKey, error) {
	set := r.set.Load()
	if set.active.ID == kid {
		return set.active, nil
	}
	now := r.now()
	for _, rk := range set.retired {
		if rk.key.ID != kid {
			continue
		}
		if !r.withinGrace(rk, now) {
			return nil, fmt.Errorf("%w: key %q retired", common.ErrBadSignature, kid)
		}
		return rk.key, nil
	}
	return nil, fmt.Errorf("%w: unknown key %q", common.ErrBadSignature, kid)
}

// KeyIDs lists the active key id first, then retired ids.
func (r *KeyRing) KeyIDs() []string {
	set := r.set.Load()
	ids := []string{set.active.ID}
	for _, rk := range set.retired {
		ids = append(ids, rk.key.ID)
	}
	return ids
}

func (r *KeyRing) wasUsed(id string) bool {
	_, ok := r.used[id]
	return ok
}

func (r *KeyRing) markUsed(id string) {
	r.used[id] = struct{}{}
	r.usedIDs = append(r.usedIDs, id)
	if len(r.usedIDs) > maxUsedKeyIDs {
		delete(r.used, r.usedIDs[0])
		r.usedIDs = r.usedIDs[1:]
	}
}

func (r *KeyRing) withinGrace(rk retiredKey, now time.Time) bool {
	return !now.After(rk.retiredAt.Add(r.grace))
}
