package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// SigningKey is one entry of the key ring. HMAC keys sign and verify with
// the same secret; RSA keys sign with the private half and verify with the
// public half.
type SigningKey struct {
	ID     string
	method jwt.SigningMethod
	sign   any
	verify any
}

// NewHMACKey returns an HS256 key. The secret must be at least 32 bytes.
func NewHMACKey(id string, secret []byte) (*SigningKey, error) {
	if id == "" {
		return nil, errors.New("key id is required")
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("key %q: HMAC secret must be at least 32 bytes", id)
	}
	s := append([]byte(nil), secret...)
	return &SigningKey{ID: id, method: jwt.SigningMethodHS256, sign: s, verify: s}, nil
}

// NewRSAKey returns an RS256 key from a PEM-encoded private key.
func NewRSAKey(id string, privatePEM []byte) (*SigningKey, error) {
	if id == "" {
		return nil, errors.New("key id is required")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", id, err)
	}
	return newRSAKey(id, priv), nil
}

func newRSAKey(id string, priv *rsa.PrivateKey) *SigningKey {
	return &SigningKey{ID: id, method: jwt.SigningMethodRS256, sign: priv, verify: &priv.PublicKey}
}

// Algorithm returns the JWS alg the key signs with.
func (k *SigningKey) Algorithm() string {
	return k.method.Alg()
}
