package models

import "time"

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// SessionRecord is the cache entry keyed by a token's jti. PairID links an
// access token to the refresh token minted with it, so logging out with
// either one revokes both.
type SessionRecord struct {
	TokenID   string
	UserID    string
	Type      TokenType
	PairID    string
	ExpiresAt time.Time
	Revoked   bool
}
