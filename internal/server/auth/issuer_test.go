package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Now().Truncate(time.Second)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func hmacKey(t *testing.T, id string) *SigningKey {
	t.Helper()
	k, err := NewHMACKey(id, []byte(strings.Repeat(id, 32)))
	if err != nil {
		t.Fatalf("NewHMACKey: %v", err)
	}
	return k
}

func newTestIssuer(t *testing.T, clock *fakeClock, grace time.Duration) *Issuer {
	t.Helper()
	ring, err := NewKeyRing(hmacKey(t, "k1"), KeyRingOptions{Grace: grace, MaxPrevious: 2, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	iss, err := NewIssuer(ring, IssuerOptions{Issuer: "sessionkeeper", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestIssueVerify_Success(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, time.Hour)

	tok, err := iss.Issue("user-123", models.TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if tok.ID == "" || tok.KeyID != "k1" || !tok.ExpiresAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected token: %+v", tok)
	}

	claims, err := iss.Verify(tok.Raw)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.Subject != "user-123" || claims.ID != tok.ID || claims.Type != models.TokenTypeAccess {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestIssuePair_ReferencesEachOther(t *testing.T) {
	iss := newTestIssuer(t, newFakeClock(), time.Hour)

	access, refresh, err := iss.IssuePair("u1", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if access.PairID != refresh.ID || refresh.PairID != access.ID || access.ID == refresh.ID {
		t.Fatalf("pair links broken: access=%+v refresh=%+v", access, refresh)
	}
	rc, err := iss.Verify(refresh.Raw)
	if err != nil || rc.Type != models.TokenTypeRefresh || rc.PairID != access.ID {
		t.Fatalf("refresh verify: %+v, %v", rc, err)
	}
}

func TestIssue_UniqueIDs(t *testing.T) {
	iss := newTestIssuer(t, newFakeClock(), time.Hour)
	seen := map[string]bool{}
	for range 100 {
		tok, err := iss.Issue("u", models.TokenTypeAccess, time.Minute)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if seen[tok.ID] {
			t.Fatalf("duplicate jti %s", tok.ID)
		}
		seen[tok.ID] = true
	}
}

func TestIssue_RejectsBadInput(t *testing.T) {
	iss := newTestIssuer(t, newFakeClock(), time.Hour)
	if _, err := iss.Issue("", models.TokenTypeAccess, time.Minute); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, err := iss.Issue("u", models.TokenTypeAccess, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestVerify_Expired(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, time.Hour)

	tok, _ := iss.Issue("u1", models.TokenTypeAccess, time.Minute)

	clock.Advance(time.Minute + 3*time.Second)
	if _, err := iss.Verify(tok.Raw); err != nil {
		t.Fatalf("token within leeway should verify, got %v", err)
	}

	clock.Advance(10 * time.Second)
	_, err := iss.Verify(tok.Raw)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}

	claims, err := iss.VerifySignature(tok.Raw)
	if err != nil || claims.ID != tok.ID {
		t.Fatalf("VerifySignature on expired token: %+v, %v", claims, err)
	}
}

func TestVerify_IssuedInFuture(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, time.Hour)

	tok, _ := iss.Issue("u1", models.TokenTypeAccess, time.Hour)

	clock.Advance(-3 * time.Second)
	if _, err := iss.Verify(tok.Raw); err != nil {
		t.Fatalf("small skew should be tolerated, got %v", err)
	}
	clock.Advance(-time.Minute)
	if _, err := iss.Verify(tok.Raw); !errors.Is(err, common.ErrMalformedToken) {
		t.Fatalf("want ErrMalformedToken for token from the future, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, time.Hour)
	tok, _ := iss.Issue("u1", models.TokenTypeAccess, time.Minute)

	// Same kid, different secret.
	other, _ := NewHMACKey("k1", []byte(strings.Repeat("z", 32)))
	ring, _ := NewKeyRing(other, KeyRingOptions{Now: clock.Now})
	forger, _ := NewIssuer(ring, IssuerOptions{Issuer: "sessionkeeper", Now: clock.Now})

	if _, err := forger.Verify(tok.Raw); !errors.Is(err, common.ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
}

func TestVerify_UnknownKid(t *testing.T) {
	clock := newFakeClock()
	a := newTestIssuer(t, clock, time.Hour)

	ring, _ := NewKeyRing(hmacKey(t, "k9"), KeyRingOptions{Now: clock.Now})
	b, _ := NewIssuer(ring, IssuerOptions{Issuer: "sessionkeeper", Now: clock.Now})
	tok, _ := b.Issue("u1", models.TokenTypeAccess, time.Minute)

	if _, err := a.Verify(tok.Raw); !errors.Is(err, common.ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, time.Hour)
	key := iss.Keys().Active()

	sign := func(claims jwt.Claims, header map[string]any) string {
		tk := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		for k, v := range header {
			tk.Header[k] = v
		}
		s, err := tk.SignedString(key.sign)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	now := clock.Now()
	valid := jwt.RegisteredClaims{
		ID: "j", Subject: "u", Issuer: "sessionkeeper",
		IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "garbage", raw: "not.a.jwt"},
		{name: "empty", raw: ""},
		{name: "missing kid", raw: sign(Claims{RegisteredClaims: valid, Type: models.TokenTypeAccess}, nil)},
		{name: "unknown type", raw: sign(Claims{RegisteredClaims: valid, Type: "session"}, map[string]any{"kid": "k1"})},
		{name: "missing subject", raw: sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			ID: "j", Issuer: "sessionkeeper", IssuedAt: valid.IssuedAt, ExpiresAt: valid.ExpiresAt,
		}, Type: models.TokenTypeAccess}, map[string]any{"kid": "k1"})},
		{name: "missing exp", raw: sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			ID: "j", Subject: "u", Issuer: "sessionkeeper", IssuedAt: valid.IssuedAt,
		}, Type: models.TokenTypeAccess}, map[string]any{"kid": "k1"})},
		{name: "wrong issuer", raw: sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			ID: "j", Subject: "u", Issuer: "someone-else", IssuedAt: valid.IssuedAt, ExpiresAt: valid.ExpiresAt,
		}, Type: models.TokenTypeAccess}, map[string]any{"kid": "k1"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Verify(tt.raw)
			if !errors.Is(err, common.ErrMalformedToken) {
				t.Fatalf("want ErrMalformedToken, got %v", err)
			}
		})
	}
}

func TestVerify_RejectsAlgorithmConfusion(t *testing.T) {
	clock := newFakeClock()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	ring, _ := NewKeyRing(newRSAKey("rsa1", priv), KeyRingOptions{Now: clock.Now})
	iss, _ := NewIssuer(ring, IssuerOptions{Now: clock.Now})

	// HS256 token keyed with the public modulus, claiming the RSA kid.
	now := clock.Now()
	tk := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID: "j", Subject: "u", IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Type: models.TokenTypeAccess,
	})
	tk.Header["kid"] = "rsa1"
	raw, _ := tk.SignedString(priv.PublicKey.N.Bytes())

	if _, err := iss.Verify(raw); !errors.Is(err, common.ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
}

func TestRSAKey_FromPEM(t *testing.T) {
	clock := newFakeClock()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	key, err := NewRSAKey("rsa1", pemBytes)
	if err != nil {
		t.Fatalf("NewRSAKey: %v", err)
	}
	if key.Algorithm() != "RS256" {
		t.Fatalf("alg = %s", key.Algorithm())
	}
	ring, _ := NewKeyRing(key, KeyRingOptions{Now: clock.Now})
	iss, _ := NewIssuer(ring, IssuerOptions{Now: clock.Now})
	tok, err := iss.Issue("u1", models.TokenTypeRefresh, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := iss.Verify(tok.Raw); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if _, err := NewRSAKey("bad", []byte("not pem")); err == nil {
		t.Fatal("expected error for invalid PEM")
	}
}

func TestNewIssuer_RequiresKeys(t *testing.T) {
	if _, err := NewIssuer(nil, IssuerOptions{}); !errors.Is(err, common.ErrNoSigningKey) {
		t.Fatalf("want ErrNoSigningKey, got %v", err)
	}
}

func TestVerifySignature_ChecksIssuer(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, time.Hour)
	key := iss.Keys().Active()

	now := clock.Now()
	for _, issuer := range []string{"someone-else", ""} {
		tk := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
			ID: "j", Subject: "u", Issuer: issuer,
			IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}, Type: models.TokenTypeAccess})
		tk.Header["kid"] = key.ID
		raw, err := tk.SignedString(key.sign)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := iss.VerifySignature(raw); !errors.Is(err, common.ErrMalformedToken) {
			t.Fatalf("issuer %q: want ErrMalformedToken, got %v", issuer, err)
		}
	}

	own, _ := iss.Issue("u1", models.TokenTypeAccess, time.Minute)
	if _, err := iss.VerifySignature(own.Raw); err != nil {
		t.Fatalf("own token rejected: %v", err)
	}
}
