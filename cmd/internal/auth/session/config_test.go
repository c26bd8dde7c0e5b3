package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_MissingSecretKey(t *testing.T) {
	t.Setenv("TRACKR_PASETO_V4_SECRET_KEY_HEX", "")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"negative access ttl":     {"TRACKR_AUTH_ACCESS_TTL": "-5m"},
		"zero refresh ttl":        {"TRACKR_AUTH_REFRESH_TTL": "0s"},
		"garbage skew":            {"TRACKR_AUTH_CLOCK_SKEW": "soon"},
		"small refresh bytes":     {"TRACKR_AUTH_REFRESH_TOKEN_BYTES": "16"},
		"refresh shorter than at": {"TRACKR_AUTH_ACCESS_TTL": "2h", "TRACKR_AUTH_REFRESH_TTL": "1h"},
		"unknown format":          {"TRACKR_ACCESS_TOKEN_FORMAT": "saml"},
		"jwt without secret":      {"TRACKR_ACCESS_TOKEN_FORMAT": "jwt"},
		"jwt short secret":        {"TRACKR_ACCESS_TOKEN_FORMAT": "jwt", "TRACKR_JWT_SECRET": "short"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TRACKR_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("TRACKR_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("TRACKR_AUTH_ISSUER", "trackr-test")
	t.Setenv("TRACKR_AUTH_ACCESS_TTL", "10m")
	t.Setenv("TRACKR_AUTH_REFRESH_TTL", "48h")
	t.Setenv("TRACKR_AUTH_CLOCK_SKEW", "0s")
	t.Setenv("TRACKR_AUTH_REFRESH_TOKEN_BYTES", "48")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "trackr-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute || cfg.RefreshTokenTTL != 48*time.Hour {
		t.Fatalf("ttl mismatch: %v / %v", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkew != 0 {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if cfg.RefreshTokenBytes != 48 {
		t.Fatalf("refresh token bytes mismatch: %d", cfg.RefreshTokenBytes)
	}
	if cfg.AccessTokenFormat != FormatPaseto {
		t.Fatalf("format = %q", cfg.AccessTokenFormat)
	}
}

func TestLoadConfigFromEnv_JWT(t *testing.T) {
	t.Setenv("TRACKR_PASETO_V4_SECRET_KEY_HEX", "")
	t.Setenv("TRACKR_ACCESS_TOKEN_FORMAT", "JWT")
	t.Setenv("TRACKR_JWT_SECRET", strings.Repeat("k", MinJWTSecretBytes))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTokenFormat != FormatJWT {
		t.Fatalf("format = %q", cfg.AccessTokenFormat)
	}
}
