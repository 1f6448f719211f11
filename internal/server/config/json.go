package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
	"github.com/dmitrijs2005/sessionkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// strings such as "15m" and integer nanoseconds. Zero values leave the
// current setting untouched.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP string `json:"endpoint_addr_http"`

	DatabaseDSN       string         `json:"database_dsn"`
	DBMaxOpenConns    int            `json:"db_max_open_conns"`
	DBMaxIdleConns    int            `json:"db_max_idle_conns"`
	DBConnMaxLifetime timex.Duration `json:"db_conn_max_lifetime"`
	RunMigrations     *bool          `json:"run_migrations"`

	RedisAddr        string `json:"redis_addr"`
	RedisUsername    string `json:"redis_username"`
	RedisPassword    string `json:"redis_password"`
	RedisDB          int    `json:"redis_db"`
	RedisPoolSize    int    `json:"redis_pool_size"`
	SessionKeyPrefix string `json:"session_key_prefix"`

	SecretKey       string             `json:"secret_key"`
	SigningKeys     []SigningKeyConfig `json:"signing_keys"`
	KeyGracePeriod  timex.Duration     `json:"key_grace_period"`
	MaxPreviousKeys int                `json:"max_previous_keys"`
	TokenIssuer     string             `json:"token_issuer"`
	ClockSkew       timex.Duration     `json:"clock_skew"`

	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	ClientTokenValidityDuration  timex.Duration `json:"client_token_validity_duration"`

	BcryptCost        int `json:"bcrypt_cost"`
	MinPasswordLength int `json:"min_password_length"`

	RetryAttempts  int            `json:"retry_attempts"`
	RetryBaseDelay timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay  timex.Duration `json:"retry_max_delay"`

	LoginRatePerMinute int `json:"login_rate_per_minute"`
	LoginBurst         int `json:"login_burst"`

	LogFormat string `json:"log_format"`
	LogLevel  string `json:"log_level"`

	ShutdownTimeout timex.Duration `json:"shutdown_timeout"`
}

// parseJson overlays the file named by -c/-config onto config. Without the
// flag nothing is loaded.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setInt(&config.DBMaxOpenConns, c.DBMaxOpenConns)
	setInt(&config.DBMaxIdleConns, c.DBMaxIdleConns)
	setDuration(&config.DBConnMaxLifetime, c.DBConnMaxLifetime)
	if c.RunMigrations != nil {
		config.RunMigrations = *c.RunMigrations
	}

	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisUsername, c.RedisUsername)
	setString(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)
	setInt(&config.RedisPoolSize, c.RedisPoolSize)
	setString(&config.SessionKeyPrefix, c.SessionKeyPrefix)

	setString(&config.SecretKey, c.SecretKey)
	if len(c.SigningKeys) > 0 {
		config.SigningKeys = c.SigningKeys
	}
	setDuration(&config.KeyGracePeriod, c.KeyGracePeriod)
	setInt(&config.MaxPreviousKeys, c.MaxPreviousKeys)
	setString(&config.TokenIssuer, c.TokenIssuer)
	setDuration(&config.ClockSkew, c.ClockSkew)

	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.ClientTokenValidityDuration, c.ClientTokenValidityDuration)

	setInt(&config.BcryptCost, c.BcryptCost)
	setInt(&config.MinPasswordLength, c.MinPasswordLength)

	setInt(&config.RetryAttempts, c.RetryAttempts)
	setDuration(&config.RetryBaseDelay, c.RetryBaseDelay)
	setDuration(&config.RetryMaxDelay, c.RetryMaxDelay)

	setInt(&config.LoginRatePerMinute, c.LoginRatePerMinute)
	setInt(&config.LoginBurst, c.LoginBurst)

	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)

	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
