// Package auth issues and verifies the signed JWTs used as access and
// refresh tokens.
//
// Every token carries a kid header naming the key that signed it. The
// Issuer always signs with the KeyRing's active key and verifies with
// whichever key the kid names, as long as that key is active or still
// within its rotation grace period.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLeeway is the clock skew tolerated on exp, nbf and iat.
const DefaultLeeway = 5 * time.Second

// Claims is the JWT payload. The standard jti, sub, iat, exp and nbf live in
// RegisteredClaims.
type Claims struct {
	jwt.RegisteredClaims
	Type   models.TokenType `json:"typ"`
	PairID string           `json:"pair,omitempty"`
}

// Token is a freshly issued, signed token. It is never modified after
// issuance.
type Token struct {
	Raw       string
	ID        string
	Subject   string
	Type      models.TokenType
	PairID    string
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuerOptions configures an Issuer.
type IssuerOptions struct {
	// Issuer is written to and required in the iss claim when non-empty.
	Issuer string
	// Leeway is the tolerated clock skew; DefaultLeeway when zero.
	Leeway time.Duration
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Issuer signs and verifies session tokens with the keys of a KeyRing.
type Issuer struct {
	keys   *KeyRing
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer backed by keys. A nil ring is a fatal
// misconfiguration reported as common.ErrNoSigningKey.
func NewIssuer(keys *KeyRing, opts IssuerOptions) (*Issuer, error) {
	if keys == nil {
		return nil, common.ErrNoSigningKey
	}
	if opts.Leeway == 0 {
		opts.Leeway = DefaultLeeway
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{keys: keys, issuer: opts.Issuer, leeway: opts.Leeway, now: opts.Now}, nil
}

// Keys exposes the ring for rotation.
func (i *Issuer) Keys() *KeyRing { return i.keys }

// Issue signs a single token of typ for userID valid for ttl.
func (i *Issuer) Issue(userID string, typ models.TokenType, ttl time.Duration) (*Token, error) {
	return i.issue(userID, typ, ttl, uuid.NewString(), "")
}

// IssuePair signs an access and a refresh token that reference each other
// through the pair claim.
func (i *Issuer) IssuePair(userID string, accessTTL, refreshTTL time.Duration) (access, refresh *Token, err error) {
	accessID, refreshID := uuid.NewString(), uuid.NewString()

	access, err = i.issue(userID, models.TokenTypeAccess, accessTTL, accessID, refreshID)
	if err != nil {
		return nil, nil, err
	}
	refresh, err = i.issue(userID, models.TokenTypeRefresh, refreshTTL, refreshID, accessID)
	if err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

func (i *Issuer) issue(userID string, typ models.TokenType, ttl time.Duration, id, pairID string) (*Token, error) {
	if userID == "" {
		return nil, errors.New("empty subject")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("non-positive ttl %s", ttl)
	}

	key := i.keys.Active()
	now := i.now().Truncate(time.Second)
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type:   typ,
		PairID: pairID,
	}

	t := jwt.NewWithClaims(key.method, claims)
	t.Header["kid"] = key.ID

	raw, err := t.SignedString(key.sign)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Token{
		Raw:       raw,
		ID:        id,
		Subject:   userID,
		Type:      typ,
		PairID:    pairID,
		KeyID:     key.ID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks signature, kid, algorithm and the time-based claims.
// Errors wrap one of common.ErrTokenExpired, common.ErrBadSignature or
// common.ErrMalformedToken.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	return i.parse(raw,
		jwt.WithLeeway(i.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
}

// VerifySignature checks signature, kid, algorithm and issuer but ignores
// expiry. It is used for revocation, where an expired token is still a
// valid reference to its session.
func (i *Issuer) VerifySignature(raw string) (*Claims, error) {
	claims, err := i.parse(raw, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	// WithoutClaimsValidation also skips the iss check.
	if i.issuer != "" && claims.Issuer != i.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", common.ErrMalformedToken, claims.Issuer)
	}
	return claims, nil
}

func (i *Issuer) parse(raw string, extra ...jwt.ParserOption) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	opts = append(opts, extra...)

	claims := &Claims{}
	t, err := jwt.ParseWithClaims(raw, claims, i.keyFunc, opts...)
	if err != nil {
		return nil, classify(err)
	}
	if !t.Valid {
		return nil, common.ErrMalformedToken
	}
	if err := checkShape(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *Issuer) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", common.ErrMalformedToken)
	}
	key, err := i.keys.Lookup(kid)
	if err != nil {
		return nil, err
	}
	if t.Method.Alg() != key.Algorithm() {
		return nil, fmt.Errorf("%w: alg %s does not match key %q", common.ErrBadSignature, t.Method.Alg(), kid)
	}
	return key.verify, nil
}

func checkShape(c *Claims) error {
	if c.ID == "" || c.Subject == "" {
		return fmt.Errorf("%w: missing jti or sub", common.ErrMalformedToken)
	}
	if c.Type != models.TokenTypeAccess && c.Type != models.TokenTypeRefresh {
		return fmt.Errorf("%w: unknown token type %q", common.ErrMalformedToken, c.Type)
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, common.ErrBadSignature), errors.Is(err, common.ErrMalformedToken):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", common.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", common.ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", common.ErrMalformedToken, err)
	}
}
