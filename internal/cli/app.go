package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
)

// ErrUsage is returned for unknown commands and missing arguments.
var ErrUsage = errors.New("usage error")

const usage = `Usage: authctl [-c config.json] [-server host:port] <command> [args]

Account commands (direct database access):
  create-user <handle>          create an account, password is prompted
  disable-user <handle>         disable an account and revoke its sessions
  enable-user <handle>          re-enable a disabled account
  revoke-sessions <handle>      revoke every session of an account
  list-sessions <handle>        list cached sessions of an account

Session commands (through the gRPC API):
  login <handle>                log in, password is prompted
  whoami <access-token>         show the account behind an access token
  client-token <access-token>   mint a short-lived token with no refresh
  refresh <refresh-token>       rotate a refresh token
  logout <token>                revoke a token and its pair

Other:
  genkey [bytes]                print a random HS256 secret (default 32 bytes)
`

// Admin is the account management surface of the auth service.
type Admin interface {
	Register(ctx context.Context, handle, plaintext string) (*models.User, error)
	GetUserByHandle(ctx context.Context, handle string) (*models.User, error)
	DisableUser(ctx context.Context, userID string) (int, error)
	EnableUser(ctx context.Context, userID string) error
	InvalidateAllSessions(ctx context.Context, userID string) (int, error)
	ListSessions(ctx context.Context, userID string) ([]*models.SessionRecord, error)
}

// Remote is the subset of the gRPC client authctl uses.
type Remote interface {
	Login(ctx context.Context, in *gs.LoginRequest, opts ...grpc.CallOption) (*gs.TokenResponse, error)
	Refresh(ctx context.Context, in *gs.RefreshRequest, opts ...grpc.CallOption) (*gs.TokenResponse, error)
	Logout(ctx context.Context, in *gs.LogoutRequest, opts ...grpc.CallOption) (*gs.LogoutResponse, error)
	WhoAmI(ctx context.Context, in *gs.WhoAmIRequest, opts ...grpc.CallOption) (*gs.WhoAmIResponse, error)
	IssueClientToken(ctx context.Context, in *gs.IssueClientTokenRequest, opts ...grpc.CallOption) (*gs.ClientTokenResponse, error)
}

type App struct {
	out    io.Writer
	reader *bufio.Reader

	configPath string
	serverAddr string

	openAdmin func(ctx context.Context, configPath string) (Admin, func() error, error)
	dial      func(addr string) (Remote, func() error, error)
}

// NewApp returns an App reading prompts from in and writing to out.
func NewApp(in io.Reader, out io.Writer) *App {
	return &App{
		out:       out,
		reader:    bufio.NewReader(in),
		openAdmin: openCore,
		dial:      dialServer,
	}
}

// Run parses global flags and executes one command.
func (a *App) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(a.out)
	fs.Usage = func() { fmt.Fprint(a.out, usage) }
	fs.StringVar(&a.configPath, "c", "", "path to the server JSON config")
	fs.StringVar(&a.serverAddr, "server", "localhost:50051", "gRPC address of a running server")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}
	cmd, cmdArgs := rest[0], rest[1:]

	switch cmd {
	case "help":
		fmt.Fprint(a.out, usage)
		return nil
	case "genkey":
		return a.genKey(cmdArgs)
	case "create-user":
		return a.withAdmin(ctx, cmdArgs, a.createUser)
	case "disable-user":
		return a.withAdmin(ctx, cmdArgs, a.disableUser)
	case "enable-user":
		return a.withAdmin(ctx, cmdArgs, a.enableUser)
	case "revoke-sessions":
		return a.withAdmin(ctx, cmdArgs, a.revokeSessions)
	case "list-sessions":
		return a.withAdmin(ctx, cmdArgs, a.listSessions)
	case "login":
		return a.withRemote(ctx, cmdArgs, a.login)
	case "whoami":
		return a.withRemote(ctx, cmdArgs, a.whoAmI)
	case "client-token":
		return a.withRemote(ctx, cmdArgs, a.clientToken)
	case "refresh":
		return a.withRemote(ctx, cmdArgs, a.refresh)
	case "logout":
		return a.withRemote(ctx, cmdArgs, a.logout)
	default:
		fmt.Fprintln(a.out, "Unknown command:", cmd)
		return ErrUsage
	}
}

func (a *App) withAdmin(ctx context.Context, args []string, fn func(context.Context, Admin, string) error) error {
	if len(args) != 1 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}
	admin, closeFn, err := a.openAdmin(ctx, a.configPath)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, admin, args[0])
}

func (a *App) withRemote(ctx context.Context, args []string, fn func(context.Context, Remote, string) error) error {
	if len(args) != 1 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}
	remote, closeFn, err := a.dial(a.serverAddr)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, remote, args[0])
}

func openCore(ctx context.Context, configPath string) (Admin, func() error, error) {
	var args []string
	if configPath != "" {
		args = []string{"-c", configPath}
	}
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	core, err := server.BuildCore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return core.Auth, core.Close, nil
}

func dialServer(addr string) (Remote, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return gs.NewAuthClient(conn), conn.Close, nil
}
