package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
)

func main() {
	os.Exit(run())
}

// run returns the exit code, so deferred flushes happen before os.Exit.
func run() int {
	ctx := context.Background()
	args := os.Args[1:]

	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	if err != nil {
		log.Printf("logger: %v", err)
		return 1
	}
	defer func() { _ = logging.Sync(logger) }()

	app, err := server.NewApp(ctx, cfg, logger, args)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		return 1
	}
	return 0
}
