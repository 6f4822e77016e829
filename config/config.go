/*
config.go - Server configuration from flags and environment

PURPOSE:
  Collects every runtime knob in one struct so main stays lean. Flags win
  over environment variables, environment variables win over defaults.

FLAGS (environment fallback):
  -port                HTTP port (PORT, default 8080)
  -db                  SQLite path or postgres:// DSN (DATABASE_URL, default campus.db)
  -log-level           debug|info|warn|error (LOG_LEVEL, default info)
  -log-format          json|text (LOG_FORMAT, default json)
  -jwt-secret          HS256 signing key (JWT_SECRET)
  -token-ttl           access token lifetime (TOKEN_TTL, default 24h)
  -tx-timeout          deadline per atomic section (TX_TIMEOUT, default 10s)
  -max-attempts        retries for lost optimistic races (MAX_ATTEMPTS, default 3)
  -max-document-bytes  store document limit (MAX_DOCUMENT_BYTES, default 16MiB)
  -max-open-conns      connection pool size (MAX_OPEN_CONNS, default 10)
  -recompute-fees      always|both (RECOMPUTE_FEES, default always)
  -cors-origins        comma-separated origins (CORS_ORIGINS)

BOOTSTRAP:
  BOOTSTRAP_ADMIN_USERNAME and BOOTSTRAP_ADMIN_PASSWORD create a
  super_admin credential at startup when it does not exist yet.

SEE ALSO:
  - cmd/server/main.go: Consumes Config
*/
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/warp/campus-engine/fees"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
)

// DevJWTSecret is used when no secret is configured. Never use it in production.
const DevJWTSecret = "dev-secret-key-change-in-production"

// Driver selects the store implementation.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config holds the server configuration.
type Config struct {
	Port             int
	DB               string
	Driver           Driver
	LogLevel         slog.Level
	LogFormat        string
	JWTSecret        string
	TokenTTL         time.Duration
	TxTimeout        time.Duration
	MaxAttempts      int
	MaxDocumentBytes int
	MaxOpenConns     int
	RecomputeFees    fees.RecomputeMode
	CORSOrigins      []string

	BootstrapUsername string
	BootstrapPassword string
}

// Addr is the listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// UsingDevSecret reports whether tokens are signed with DevJWTSecret.
func (c Config) UsingDevSecret() bool { return c.JWTSecret == DevJWTSecret }

// Load parses args (without the program name) with getenv as fallback.
func Load(args []string, getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	envInt := func(key string, def int) (int, error) {
		v := env(key, "")
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	}
	envDuration := func(key string, def time.Duration) (time.Duration, error) {
		v := env(key, "")
		if v == "" {
			return def, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	}

	port, err := envInt("PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	maxAttempts, err := envInt("MAX_ATTEMPTS", generic.DefaultMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	maxDoc, err := envInt("MAX_DOCUMENT_BYTES", generic.DefaultMaxDocumentBytes)
	if err != nil {
		return Config{}, err
	}
	maxConns, err := envInt("MAX_OPEN_CONNS", 10)
	if err != nil {
		return Config{}, err
	}
	txTimeout, err := envDuration("TX_TIMEOUT", generic.DefaultTxTimeout)
	if err != nil {
		return Config{}, err
	}
	tokenTTL, err := envDuration("TOKEN_TTL", identity.DefaultTokenTTL)
	if err != nil {
		return Config{}, err
	}

	var (
		cfg       Config
		logLevel  string
		recompute string
		origins   string
	)
	fs := flag.NewFlagSet("campus-engine", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fs.StringVar(&cfg.DB, "db", env("DATABASE_URL", "campus.db"), "SQLite path or postgres:// DSN")
	fs.StringVar(&logLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", env("LOG_FORMAT", "json"), "json or text")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", env("JWT_SECRET", DevJWTSecret), "HS256 signing key")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", tokenTTL, "access token lifetime")
	fs.DurationVar(&cfg.TxTimeout, "tx-timeout", txTimeout, "deadline per atomic section")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", maxAttempts, "attempts per atomic section on lost races")
	fs.IntVar(&cfg.MaxDocumentBytes, "max-document-bytes", maxDoc, "maximum encoded document size")
	fs.IntVar(&cfg.MaxOpenConns, "max-open-conns", maxConns, "connection pool size")
	fs.StringVar(&recompute, "recompute-fees", env("RECOMPUTE_FEES", "always"), "always or both")
	fs.StringVar(&origins, "cors-origins", env("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"), "allowed CORS origins")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return Config{}, fmt.Errorf("log level: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("log format %q: must be json or text", cfg.LogFormat)
	}
	if cfg.RecomputeFees, err = fees.ParseRecomputeMode(recompute); err != nil {
		return Config{}, fmt.Errorf("recompute-fees: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.TxTimeout <= 0 {
		return Config{}, fmt.Errorf("tx-timeout must be positive")
	}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	cfg.Driver = DriverSQLite
	if strings.HasPrefix(cfg.DB, "postgres://") || strings.HasPrefix(cfg.DB, "postgresql://") {
		cfg.Driver = DriverPostgres
	}
	cfg.BootstrapUsername = env("BOOTSTRAP_ADMIN_USERNAME", "")
	cfg.BootstrapPassword = env("BOOTSTRAP_ADMIN_PASSWORD", "")
	return cfg, nil
}
