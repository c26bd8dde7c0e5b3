package authapi

import (
	"net/http"
	"strings"
	"time"

	"trackr/cmd/internal/envconf"
)

const DefaultRefreshCookieName = "trackr_refresh"

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// Per client IP, shared by register, login and refresh.
	RateLimit   float64
	RateBurst   int
	RateIdleTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		RefreshCookieName: DefaultRefreshCookieName,
		CookiePath:        "/auth",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
		RateLimit:         1,
		RateBurst:         10,
		RateIdleTTL:       10 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe
// defaults. Invalid values fall back to the default.
func LoadConfigFromEnv() (Config, error) {
	env, err := envconf.Load()
	if err != nil {
		return Config{}, err
	}
	d := DefaultConfig()
	cfg := Config{
		TrustProxy:        env.Bool("TRACKR_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      env.Int64("TRACKR_AUTH_MAX_BODY_BYTES", d.MaxBodyBytes),
		RefreshCookieName: env.String("TRACKR_AUTH_REFRESH_COOKIE_NAME", d.RefreshCookieName),
		CookiePath:        env.String("TRACKR_AUTH_COOKIE_PATH", d.CookiePath),
		CookieDomain:      env.String("TRACKR_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:      env.Bool("TRACKR_AUTH_COOKIE_SECURE", d.CookieSecure),
		CookieSameSite:    parseSameSite(env.String("TRACKR_AUTH_COOKIE_SAMESITE", "strict")),
		RateLimit:         env.Float("TRACKR_AUTH_RATE_LIMIT", d.RateLimit),
		RateBurst:         env.Int("TRACKR_AUTH_RATE_BURST", d.RateBurst),
		RateIdleTTL:       env.Duration("TRACKR_AUTH_RATE_IDLE_TTL", d.RateIdleTTL),
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if !strings.HasPrefix(cfg.CookiePath, "/") {
		cfg.CookiePath = d.CookiePath
	}
	return cfg, nil
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}
