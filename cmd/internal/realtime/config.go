package realtime

import (
	"fmt"
	"time"

	"trackr/cmd/internal/envconf"
)

// GatewayConfig holds the gateway's transport and policy knobs.
type GatewayConfig struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	AllowedOrigins []string

	// InsecureSkipVerify disables websocket.Accept's own origin check. Dev only.
	InsecureSkipVerify bool

	// QueryToken allows ?access_token= for browsers, which cannot set
	// headers on a websocket upgrade.
	QueryToken bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	LookupTimeout   time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// RateLimit is the sustained inbound events per second; RateBurst the bucket size.
	RateLimit float64
	RateBurst int
}

// DefaultGatewayConfig is secure by default: Origin is required and only
// localhost is allowed.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		QueryToken:        true,
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		LookupTimeout:     defaultLookupTimeout,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateLimit:         defaultRateLimit,
		RateBurst:         defaultRateBurst,
	}
}

// LoadGatewayConfigFromEnv overlays TRACKR_WS_* variables on the defaults.
// Unparsable values are errors rather than silent fallbacks.
func LoadGatewayConfigFromEnv() (GatewayConfig, error) {
	env, err := envconf.Load()
	if err != nil {
		return GatewayConfig{}, err
	}
	cfg := DefaultGatewayConfig()

	bools := []struct {
		key string
		dst *bool
	}{
		{"TRACKR_WS_ORIGIN_REQUIRED", &cfg.OriginRequired},
		{"TRACKR_WS_DEV_INSECURE", &cfg.InsecureSkipVerify},
		{"TRACKR_WS_QUERY_TOKEN", &cfg.QueryToken},
	}
	for _, b := range bools {
		if err := env.SetBool(b.key, b.dst); err != nil {
			return GatewayConfig{}, fmt.Errorf("realtime: %w", err)
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TRACKR_WS_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"TRACKR_WS_READ_IDLE_TIMEOUT", &cfg.ReadIdleTimeout},
		{"TRACKR_WS_LOOKUP_TIMEOUT", &cfg.LookupTimeout},
		{"TRACKR_WS_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"TRACKR_WS_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout},
	}
	for _, d := range durations {
		if err := env.SetDuration(d.key, d.dst); err != nil {
			return GatewayConfig{}, fmt.Errorf("realtime: %w", err)
		}
	}

	if err := env.SetInt("TRACKR_WS_SEND_QUEUE", &cfg.SendQueueSize); err != nil {
		return GatewayConfig{}, fmt.Errorf("realtime: %w", err)
	}
	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = minSendQueueSize
	}
	if err := env.SetInt("TRACKR_WS_RATE_BURST", &cfg.RateBurst); err != nil {
		return GatewayConfig{}, fmt.Errorf("realtime: %w", err)
	}
	if err := env.SetFloat("TRACKR_WS_RATE_LIMIT", &cfg.RateLimit); err != nil {
		return GatewayConfig{}, fmt.Errorf("realtime: %w", err)
	}

	if v, ok := env.Lookup("TRACKR_WS_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = envconf.SplitCSV(v)
	}
	return cfg, nil
}
