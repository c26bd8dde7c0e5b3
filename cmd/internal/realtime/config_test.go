package realtime

import (
	"net/http/httptest"
	"slices"
	"testing"
	"time"
)

func TestLoadGatewayConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("TRACKR_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("TRACKR_WS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")
	t.Setenv("TRACKR_WS_WRITE_TIMEOUT", "3s")
	t.Setenv("TRACKR_WS_SEND_QUEUE", "1")
	t.Setenv("TRACKR_WS_RATE_LIMIT", "2.5")
	t.Setenv("TRACKR_WS_RATE_BURST", "7")

	cfg, err := LoadGatewayConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadGatewayConfigFromEnv: %v", err)
	}
	if cfg.OriginRequired {
		t.Fatalf("OriginRequired should be false")
	}
	if want := []string{"https://app.example.com", "https://admin.example.com"}; !slices.Equal(cfg.AllowedOrigins, want) {
		t.Fatalf("AllowedOrigins=%q want=%q", cfg.AllowedOrigins, want)
	}
	if cfg.WriteTimeout != 3*time.Second {
		t.Fatalf("WriteTimeout=%v", cfg.WriteTimeout)
	}
	if cfg.SendQueueSize != minSendQueueSize {
		t.Fatalf("SendQueueSize=%d want clamp to %d", cfg.SendQueueSize, minSendQueueSize)
	}
	if cfg.RateLimit != 2.5 || cfg.RateBurst != 7 {
		t.Fatalf("rate=%v burst=%d", cfg.RateLimit, cfg.RateBurst)
	}
}

func TestLoadGatewayConfigFromEnv_Rejects(t *testing.T) {
	cases := map[string]string{
		"TRACKR_WS_QUERY_TOKEN":        "sometimes",
		"TRACKR_WS_WRITE_TIMEOUT":      "-1s",
		"TRACKR_WS_HEARTBEAT_INTERVAL": "soon",
		"TRACKR_WS_SEND_QUEUE":         "lots",
		"TRACKR_WS_RATE_BURST":         "0",
		"TRACKR_WS_RATE_LIMIT":         "-3",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := LoadGatewayConfigFromEnv(); err == nil {
				t.Fatalf("%s=%q accepted", key, val)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	allowed := []string{"http://localhost", "https://app.example.com"}
	cases := []struct {
		name     string
		origin   string
		required bool
		allowed  []string
		ok       bool
	}{
		{"exact", "https://app.example.com", true, allowed, true},
		{"host with port", "http://localhost:5173", true, allowed, true},
		{"host case", "http://LOCALHOST:3000", true, allowed, true},
		{"foreign", "https://evil.example.com", true, allowed, false},
		{"missing required", "", true, allowed, false},
		{"missing optional", "", false, allowed, true},
		{"empty allowlist", "http://localhost", true, nil, false},
		{"wildcard", "https://anything.example.org", true, []string{"*"}, true},
	}

	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := checkOrigin(r, tc.required, tc.allowed)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"http://localhost", "http://localhost:3000", "https://App.example.com", "*"})
	want := []string{"app.example.com", "app.example.com:*", "localhost", "localhost:*"}
	if !slices.Equal(got, want) {
		t.Fatalf("originPatterns=%q want=%q", got, want)
	}
}
