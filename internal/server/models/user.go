// Package models defines the identity and session types shared by the
// credential store, the session cache and the auth service.
package models

import "time"

// Status is the account state stored in users.status.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// User is the identity record owned by the credential store. Users are
// never deleted while tokens may reference them; they are disabled instead.
type User struct {
	ID           string
	Handle       string
	PasswordHash string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may log in.
func (u *User) Active() bool {
	return u.Status == StatusActive
}
