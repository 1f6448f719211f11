package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
)

func (a *App) createUser(ctx context.Context, admin Admin, handle string) error {
	pw, err := GetNewPassword(a.reader, a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	u, err := admin.Register(ctx, handle, string(pw))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(a.out, "Created user %s (%s)\n", u.Handle, u.ID)
	return nil
}

func (a *App) disableUser(ctx context.Context, admin Admin, handle string) error {
	u, err := admin.GetUserByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	n, err := admin.DisableUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("disable user: %w", err)
	}
	fmt.Fprintf(a.out, "Disabled %s, revoked %d session(s)\n", u.Handle, n)
	return nil
}

func (a *App) enableUser(ctx context.Context, admin Admin, handle string) error {
	u, err := admin.GetUserByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if err := admin.EnableUser(ctx, u.ID); err != nil {
		return fmt.Errorf("enable user: %w", err)
	}
	fmt.Fprintf(a.out, "Enabled %s\n", u.Handle)
	return nil
}

func (a *App) revokeSessions(ctx context.Context, admin Admin, handle string) error {
	u, err := admin.GetUserByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	n, err := admin.InvalidateAllSessions(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	fmt.Fprintf(a.out, "Revoked %d session(s) of %s\n", n, u.Handle)
	return nil
}

func (a *App) listSessions(ctx context.Context, admin Admin, handle string) error {
	u, err := admin.GetUserByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	records, err := admin.ListSessions(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(a.out, "No sessions for %s\n", u.Handle)
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN ID\tTYPE\tPAIR\tEXPIRES\tREVOKED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", r.TokenID, r.Type, r.PairID, r.ExpiresAt.UTC().Format(time.RFC3339), r.Revoked)
	}
	return tw.Flush()
}

func (a *App) genKey(args []string) error {
	size := 32
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 32 {
			fmt.Fprintln(a.out, "genkey: size must be a number of at least 32 bytes")
			return ErrUsage
		}
		size = n
	}
	key, err := common.MakeRandHexString(size)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, key)
	return nil
}
