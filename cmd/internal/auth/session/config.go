package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"trackr/cmd/internal/envconf"
)

// Access assertion formats.
const (
	FormatPaseto = "paseto"
	FormatJWT    = "jwt"
)

// MinJWTSecretBytes is the shortest accepted HS256 secret.
const MinJWTSecretBytes = 32

// Config controls token lifetimes and signing keys.
type Config struct {
	// Issuer is set as "iss" on access assertions and checked on verify.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is tolerated on access assertion expiry.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// AccessTokenFormat is FormatPaseto (default) or FormatJWT.
	AccessTokenFormat string

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for v4.public.
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 key when AccessTokenFormat is FormatJWT.
	JWTSecret string
}

func DefaultConfig() Config {
	return Config{
		Issuer:            "trackr",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		AccessTokenFormat: FormatPaseto,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required (depending on TRACKR_ACCESS_TOKEN_FORMAT):
//   - TRACKR_PASETO_V4_SECRET_KEY_HEX (paseto, the default)
//   - TRACKR_JWT_SECRET (jwt, at least 32 bytes)
//
// Optional:
//   - TRACKR_AUTH_ISSUER
//   - TRACKR_AUTH_ACCESS_TTL
//   - TRACKR_AUTH_REFRESH_TTL
//   - TRACKR_AUTH_CLOCK_SKEW
//   - TRACKR_AUTH_REFRESH_TOKEN_BYTES (32..64)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	env, err := envconf.Load()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg := DefaultConfig()

	nonNegative := func(d time.Duration) bool { return d >= 0 }
	loaders := []func() error{
		func() error { return env.SetDuration("TRACKR_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL) },
		func() error { return env.SetDuration("TRACKR_AUTH_REFRESH_TTL", &cfg.RefreshTokenTTL) },
		func() error {
			return envconf.Set(env, "TRACKR_AUTH_CLOCK_SKEW", &cfg.ClockSkew, time.ParseDuration, nonNegative)
		},
		func() error {
			return envconf.Set(env, "TRACKR_AUTH_REFRESH_TOKEN_BYTES", &cfg.RefreshTokenBytes, strconv.Atoi,
				func(n int) bool { return n >= 32 && n <= 64 })
		},
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	cfg.Issuer = env.String("TRACKR_AUTH_ISSUER", cfg.Issuer)
	cfg.AccessTokenFormat = strings.ToLower(env.String("TRACKR_ACCESS_TOKEN_FORMAT", cfg.AccessTokenFormat))
	cfg.PasetoV4SecretKeyHex = env.String("TRACKR_PASETO_V4_SECRET_KEY_HEX", "")
	cfg.JWTSecret = env.String("TRACKR_JWT_SECRET", "")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants LoadConfigFromEnv enforces.
func (c Config) Validate() error {
	if c.Issuer == "" || c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	// A refresh token that dies before its access assertion is useless.
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return ErrConfig
	}
	switch c.AccessTokenFormat {
	case FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	case FormatJWT:
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}
