package authapi

import (
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}

	if cfg.RefreshCookieName != "trackr_refresh" || cfg.CookiePath != "/auth" {
		t.Fatalf("cookie name/path = %q %q", cfg.RefreshCookieName, cfg.CookiePath)
	}
	if !cfg.CookieSecure || cfg.CookieSameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie secure=%v samesite=%v", cfg.CookieSecure, cfg.CookieSameSite)
	}
}

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("TRACKR_AUTH_COOKIE_SAMESITE", "none")
	t.Setenv("TRACKR_AUTH_COOKIE_SECURE", "false")
	t.Setenv("TRACKR_AUTH_COOKIE_PATH", "auth")
	t.Setenv("TRACKR_AUTH_RATE_BURST", "-3")
	t.Setenv("TRACKR_AUTH_RATE_IDLE_TTL", "90s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}

	if cfg.CookieSameSite != http.SameSiteNoneMode {
		t.Fatalf("expected SameSite=None, got %v", cfg.CookieSameSite)
	}
	if !cfg.CookieSecure {
		t.Fatalf("SameSite=None requires Secure=true")
	}
	if cfg.CookiePath != "/auth" {
		t.Fatalf("relative cookie path should fall back, got %q", cfg.CookiePath)
	}
	if cfg.RateBurst != DefaultConfig().RateBurst {
		t.Fatalf("negative burst should fall back, got %d", cfg.RateBurst)
	}
	if cfg.RateIdleTTL != 90*time.Second {
		t.Fatalf("RateIdleTTL=%v", cfg.RateIdleTTL)
	}
}

func TestParseSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "Lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteStrictMode},
	}

	for _, tc := range tests {
		if got := parseSameSite(tc.in); got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
