package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"trackr/cmd/internal/envconf"
)

// Ledger backends selectable with TRACKR_LEDGER.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// ErrConfig is returned when the runtime configuration is unusable.
var ErrConfig = errors.New("invalid app config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	// LedgerBackend picks the refresh ledger. Empty means postgres when a
	// database is configured, memory otherwise.
	LedgerBackend string
	RedisURL      string

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// If true, TRACKR_TOKEN_HMAC_KEY must be set (>= 32 bytes).
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// DevMemberships seeds the membership directory ("ws:user:role,...").
	DevMemberships string
}

// LoadConfig loads Config from environment variables with defaults.
// Call LoadDotEnv first to pick up a .env file.
func LoadConfig() (Config, error) {
	env, err := envconf.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTPAddr:  env.String("TRACKR_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  env.String("TRACKR_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(env.String("TRACKR_LOG_FORMAT", "json")),

		ReadHeaderTimeout: env.Duration("TRACKR_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       env.Duration("TRACKR_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      env.Duration("TRACKR_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       env.Duration("TRACKR_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   env.Duration("TRACKR_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    env.Int("TRACKR_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: env.String("TRACKR_DATABASE_URL", ""),
		DBMaxConns:  env.Int32("TRACKR_DB_MAX_CONNS", 10),
		DBMinConns:  env.Int32("TRACKR_DB_MIN_CONNS", 0),
		AutoMigrate: env.Bool("TRACKR_DB_AUTO_MIGRATE", false),

		LedgerBackend: strings.ToLower(env.String("TRACKR_LEDGER", "")),
		RedisURL:      env.String("TRACKR_REDIS_URL", ""),

		ReadinessRequireDB: env.Bool("TRACKR_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   env.Bool("TRACKR_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   env.CSV("TRACKR_CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
		CORSAllowCredentials: env.Bool("TRACKR_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    env.Int("TRACKR_CORS_MAX_AGE", 600),

		DevMemberships: env.String("TRACKR_DEV_MEMBERSHIPS", ""),
	}

	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = LedgerMemory
		if cfg.DatabaseURL != "" {
			cfg.LedgerBackend = LedgerPostgres
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports combinations New cannot wire.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format %q", ErrConfig, c.LogFormat)
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres ledger needs TRACKR_DATABASE_URL", ErrConfig)
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis ledger needs TRACKR_REDIS_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger %q", ErrConfig, c.LedgerBackend)
	}

	for _, o := range c.CORSAllowedOrigins {
		if o == "*" && c.CORSAllowCredentials {
			return fmt.Errorf("%w: wildcard CORS origin with credentials", ErrConfig)
		}
	}
	return nil
}
