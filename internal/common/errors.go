// Package common defines constants and sentinel errors shared by the
// sessionkeeper packages. Callers should match them with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrDuplicateHandle = errors.New("handle already registered")

	// ErrBackendUnavailable marks failures to reach Postgres or Redis.
	// It is retried internally for idempotent operations and surfaced to
	// callers as a generic service-unavailable condition.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Service-level errors.
	ErrorInternal         = errors.New("internal error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrValidation         = errors.New("validation error")

	// Password hashing errors.
	ErrMalformedHash    = errors.New("malformed password hash")
	ErrPasswordTooLong  = errors.New("password exceeds 72 bytes")
	ErrPasswordTooShort = errors.New("password too short")

	// Token errors. They never leave the service layer; external callers
	// only see ErrUnauthenticated.
	ErrTokenExpired   = errors.New("token expired")
	ErrBadSignature   = errors.New("bad token signature")
	ErrMalformedToken = errors.New("malformed token")
	ErrNoSigningKey   = errors.New("no signing key configured")

	// Session cache errors.
	ErrSessionNotFound = errors.New("session not found")
)
