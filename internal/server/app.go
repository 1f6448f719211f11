// Package server wires the credential/session core into a running process:
// gRPC transport, operational HTTP, signal handling, signing key rotation
// and graceful shutdown.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/httpx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
)

// pruneInterval is how often expired retired keys are dropped.
const pruneInterval = time.Minute

type App struct {
	config *config.Config
	logger logging.Logger
	core   *Core
	// loadConfig re-reads configuration on SIGHUP.
	loadConfig func() (*config.Config, error)
}

// NewApp builds the core. args are the command-line arguments, re-read
// together with the config file on SIGHUP.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger, args []string) (*App, error) {
	core, err := BuildCore(ctx, c, l)
	if err != nil {
		return nil, err
	}
	return &App{
		config:     c,
		logger:     l,
		core:       core,
		loadConfig: func() (*config.Config, error) { return config.LoadConfig(args) },
	}, nil
}

// Run serves until SIGINT, SIGTERM or SIGQUIT, or until one server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	app.logger.Info(ctx, "Starting app...")

	grpcServer := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.core.Auth, gs.Options{
		LoginRatePerMinute: app.config.LoginRatePerMinute,
		LoginBurst:         app.config.LoginBurst,
		Recorder:           app.core.Metrics,
		ShutdownTimeout:    app.config.ShutdownTimeout,
	})
	httpServer := httpx.NewServer(app.config.EndpointAddrHTTP, app.logger,
		httpx.NewRouter(app.logger, app.core.Checks(), metrics.Handler(app.core.Registry)),
		app.config.ShutdownTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcServer.Run(gctx) })
	g.Go(func() error { return httpServer.Run(gctx) })
	g.Go(func() error {
		app.maintainKeys(gctx, hup)
		return nil
	})

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "server stopped with error", "error", err)
	}

	if cerr := app.core.Close(); cerr != nil {
		app.logger.Error(ctx, "failed to close backends", "error", cerr)
	}
	app.logger.Info(ctx, "App stopped")
	return err
}

// maintainKeys prunes retired signing keys periodically and rotates to the
// configured active key on SIGHUP.
func (app *App) maintainKeys(ctx context.Context, hup <-chan os.Signal) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	ring := app.core.Issuer.Keys()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := ring.Prune(); n > 0 {
				app.logger.Info(ctx, "Pruned retired signing keys", "count", n, "kids", ring.KeyIDs())
			}
		case <-hup:
			cfg, err := app.loadConfig()
			if err != nil {
				app.logger.Error(ctx, "config reload failed", "error", err)
				continue
			}
			rotated, err := reloadKeys(ring, cfg)
			if err != nil {
				app.logger.Error(ctx, "signing key reload failed", "error", err)
				continue
			}
			if rotated {
				app.logger.Info(ctx, "Signing key rotated", "active", ring.Active().ID, "kids", ring.KeyIDs())
			}
		}
	}
}
