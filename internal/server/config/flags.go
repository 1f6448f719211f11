package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
)

// parseFlags applies command-line flags to config.
//
// Supported flags:
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-http string   operational HTTP bind address (health, metrics)
//	-d string   PostgreSQL DSN
//	-redis string  Redis address
//	-s string   HS256 secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-m bool     run migrations at startup
//	-log-level string  debug, info, warn or error
//
// The -c/-config flag is consumed by parseJson and skipped here.
func parseFlags(config *Config, args []string) error {
	args = flagx.DropArgs(args, flagx.ConfigFlags)

	fs := flag.NewFlagSet("sessionkeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run gRPC server")
	fs.StringVar(&config.EndpointAddrHTTP, "http", config.EndpointAddrHTTP, "address and port for health and metrics")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.BoolVar(&config.RunMigrations, "m", config.RunMigrations, "run database migrations at startup")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	access := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refresh := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	// Only override durations that were given explicitly, so sub-minute
	// values from earlier layers survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*access) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refresh) * time.Minute
		}
	})
	return nil
}
