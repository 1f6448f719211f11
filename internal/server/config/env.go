package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "SK_"

// loadDotEnv exports the variables in path into the process environment
// without overriding ones already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// parseEnv overlays SK_* variables onto config.
func parseEnv(config *Config) error {
	strs := map[string]*string{
		"GRPC_ADDR":          &config.EndpointAddrGRPC,
		"HTTP_ADDR":          &config.EndpointAddrHTTP,
		"DATABASE_DSN":       &config.DatabaseDSN,
		"REDIS_ADDR":         &config.RedisAddr,
		"REDIS_USERNAME":     &config.RedisUsername,
		"REDIS_PASSWORD":     &config.RedisPassword,
		"SESSION_KEY_PREFIX": &config.SessionKeyPrefix,
		"SECRET_KEY":         &config.SecretKey,
		"TOKEN_ISSUER":       &config.TokenIssuer,
		"LOG_FORMAT":         &config.LogFormat,
		"LOG_LEVEL":          &config.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DB_MAX_OPEN_CONNS":     &config.DBMaxOpenConns,
		"DB_MAX_IDLE_CONNS":     &config.DBMaxIdleConns,
		"REDIS_DB":              &config.RedisDB,
		"REDIS_POOL_SIZE":       &config.RedisPoolSize,
		"MAX_PREVIOUS_KEYS":     &config.MaxPreviousKeys,
		"BCRYPT_COST":           &config.BcryptCost,
		"MIN_PASSWORD_LENGTH":   &config.MinPasswordLength,
		"RETRY_ATTEMPTS":        &config.RetryAttempts,
		"LOGIN_RATE_PER_MINUTE": &config.LoginRatePerMinute,
		"LOGIN_BURST":           &config.LoginBurst,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"DB_CONN_MAX_LIFETIME": &config.DBConnMaxLifetime,
		"KEY_GRACE_PERIOD":     &config.KeyGracePeriod,
		"CLOCK_SKEW":           &config.ClockSkew,
		"ACCESS_TOKEN_TTL":     &config.AccessTokenValidityDuration,
		"REFRESH_TOKEN_TTL":    &config.RefreshTokenValidityDuration,
		"CLIENT_TOKEN_TTL":     &config.ClientTokenValidityDuration,
		"RETRY_BASE_DELAY":     &config.RetryBaseDelay,
		"RETRY_MAX_DELAY":      &config.RetryMaxDelay,
		"SHUTDOWN_TIMEOUT":     &config.ShutdownTimeout,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv(EnvPrefix + "RUN_MIGRATIONS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sRUN_MIGRATIONS: %w", EnvPrefix, err)
		}
		config.RunMigrations = b
	}
	return nil
}
