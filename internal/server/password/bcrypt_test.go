package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashVerify_RoundTrip(t *testing.T) {
	h := newTestHasher(t)
	for _, pw := range []string{"pw123!", "", "пароль", strings.Repeat("x", 72)} {
		hash, err := h.Hash(pw)
		if err != nil {
			t.Fatalf("Hash(%q): %v", pw, err)
		}
		if hash == pw {
			t.Fatalf("hash equals plaintext")
		}
		ok, err := h.Verify(pw, hash)
		if err != nil || !ok {
			t.Fatalf("Verify(%q) = (%v, %v), want (true, nil)", pw, ok, err)
		}
	}
}

func TestVerify_OtherPasswordFails(t *testing.T) {
	h := newTestHasher(t)
	hash, err := h.Hash("pw123!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := h.Verify("pw123?", hash)
	if err != nil || ok {
		t.Fatalf("Verify(other) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestHash_IsSalted(t *testing.T) {
	h := newTestHasher(t)
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Fatalf("two hashes of the same password are identical")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	h := newTestHasher(t)
	for _, bad := range []string{"", "plain", "$2a$04$short", "$9z$04$" + strings.Repeat("a", 53)} {
		ok, err := h.Verify("pw", bad)
		if ok {
			t.Fatalf("Verify with malformed hash %q returned true", bad)
		}
		if !errors.Is(err, common.ErrMalformedHash) {
			t.Fatalf("Verify(%q) err = %v, want ErrMalformedHash", bad, err)
		}
	}
}

func TestHash_TooLong(t *testing.T) {
	h := newTestHasher(t)
	if _, err := h.Hash(strings.Repeat("x", 73)); !errors.Is(err, common.ErrPasswordTooLong) {
		t.Fatalf("want ErrPasswordTooLong, got %v", err)
	}

	hash, err := h.Hash(strings.Repeat("x", 72))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	// Input past the limit must not match a hash of its 72-byte prefix.
	ok, err := h.Verify(strings.Repeat("x", 73), hash)
	if ok || err != nil {
		t.Fatalf("Verify(73 bytes) = %v, %v; want false, nil", ok, err)
	}
}

func TestNewHasher_ClampsCost(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{in: 1, want: bcrypt.MinCost},
		{in: 5, want: 5},
	}
	for _, tt := range tests {
		h, err := NewHasher(tt.in)
		if err != nil {
			t.Fatalf("NewHasher(%d): %v", tt.in, err)
		}
		if h.Cost() != tt.want {
			t.Fatalf("Cost() = %d, want %d", h.Cost(), tt.want)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	h := newTestHasher(t)
	hash, _ := h.Hash("pw")
	if h.NeedsRehash(hash) {
		t.Fatalf("fresh hash should not need rehash")
	}
	stronger, _ := NewHasher(bcrypt.MinCost + 1)
	if !stronger.NeedsRehash(hash) {
		t.Fatalf("hash with lower cost should need rehash")
	}
	if !h.NeedsRehash("garbage") {
		t.Fatalf("malformed hash should need rehash")
	}
}

func TestEqualize_DoesNotPanic(t *testing.T) {
	newTestHasher(t).Equalize("anything")
}
