package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	u, err := s.auth.Register(ctx, req.Handle, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, MethodRegister, err)
	}
	return &RegisterResponse{UserID: u.ID, Handle: u.Handle}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	pair, err := s.auth.Login(ctx, req.Handle, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, MethodLogin, err)
	}
	return tokenResponse(pair), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error) {
	pair, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, MethodRefresh, err)
	}
	return tokenResponse(pair), nil
}

func (s *GRPCServer) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	if err := s.auth.Logout(ctx, req.Token); err != nil {
		return nil, s.toStatus(ctx, MethodLogout, err)
	}
	return &LogoutResponse{}, nil
}

func (s *GRPCServer) WhoAmI(ctx context.Context, _ *WhoAmIRequest) (*WhoAmIResponse, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	u, err := s.auth.GetUser(ctx, userID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err != nil {
		return nil, s.toStatus(ctx, MethodWhoAmI, err)
	}
	return &WhoAmIResponse{UserID: u.ID, Handle: u.Handle, Status: string(u.Status), CreatedAt: u.CreatedAt}, nil
}

func (s *GRPCServer) ChangePassword(ctx context.Context, req *ChangePasswordRequest) (*ChangePasswordResponse, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err := s.auth.ChangePassword(ctx, userID, req.OldPassword, req.NewPassword); err != nil {
		return nil, s.toStatus(ctx, MethodChangePassword, err)
	}
	return &ChangePasswordResponse{}, nil
}

func (s *GRPCServer) IssueClientToken(ctx context.Context, _ *IssueClientTokenRequest) (*ClientTokenResponse, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	ct, err := s.auth.IssueClientToken(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, MethodIssueClientToken, err)
	}
	return &ClientTokenResponse{UserID: ct.UserID, Token: ct.Token, ExpiresAt: ct.ExpiresAt}, nil
}

func tokenResponse(p *services.TokenPair) *TokenResponse {
	return &TokenResponse{
		UserID:           p.UserID,
		TokenType:        "Bearer",
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
