package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"

	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
)

func (a *App) login(ctx context.Context, remote Remote, handle string) error {
	pw, err := GetPassword(a.reader, "Password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	resp, err := remote.Login(ctx, &gs.LoginRequest{Handle: handle, Password: string(pw)})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	a.printTokens(resp)
	return nil
}

func (a *App) refresh(ctx context.Context, remote Remote, refreshToken string) error {
	resp, err := remote.Refresh(ctx, &gs.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	a.printTokens(resp)
	return nil
}

func (a *App) whoAmI(ctx context.Context, remote Remote, accessToken string) error {
	resp, err := remote.WhoAmI(gs.WithBearer(ctx, accessToken), &gs.WhoAmIRequest{})
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	fmt.Fprintf(a.out, "user_id: %s\nhandle:  %s\nstatus:  %s\n", resp.UserID, resp.Handle, resp.Status)
	return nil
}

func (a *App) clientToken(ctx context.Context, remote Remote, accessToken string) error {
	resp, err := remote.IssueClientToken(gs.WithBearer(ctx, accessToken), &gs.IssueClientTokenRequest{})
	if err != nil {
		return fmt.Errorf("client-token: %w", err)
	}
	fmt.Fprintf(a.out, "token:   %s\n", resp.Token)
	fmt.Fprintf(a.out, "expires: %s\n", resp.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func (a *App) logout(ctx context.Context, remote Remote, token string) error {
	if _, err := remote.Logout(ctx, &gs.LogoutRequest{Token: token}); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) printTokens(resp *gs.TokenResponse) {
	fmt.Fprintf(a.out, "user_id:       %s\n", resp.UserID)
	fmt.Fprintf(a.out, "access_token:  %s\n", resp.AccessToken)
	fmt.Fprintf(a.out, "  expires:     %s\n", resp.AccessExpiresAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(a.out, "refresh_token: %s\n", resp.RefreshToken)
	fmt.Fprintf(a.out, "  expires:     %s\n", resp.RefreshExpiresAt.UTC().Format(time.RFC3339))
}
