package grpc

import "time"

// Request and response messages of sessionkeeper.auth.v1.AuthService.
// Validation tags are checked before any handler runs.

type RegisterRequest struct {
	Handle   string `json:"handle" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=72"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
}

type LoginRequest struct {
	Handle   string `json:"handle" validate:"required,max=320"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by Login and Refresh.
type TokenResponse struct {
	UserID           string    `json:"user_id"`
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest takes either token of a pair; both are revoked.
type LogoutRequest struct {
	Token string `json:"token" validate:"required"`
}

type LogoutResponse struct{}

type WhoAmIRequest struct{}

type WhoAmIResponse struct {
	UserID    string    `json:"user_id"`
	Handle    string    `json:"handle"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=72,nefield=OldPassword"`
}

type ChangePasswordResponse struct{}

type IssueClientTokenRequest struct{}

// ClientTokenResponse carries a short-lived access token with no refresh
// token, for clients that cannot run the refresh flow.
type ClientTokenResponse struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
