package app

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func clearAppEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TRACKR_DATABASE_URL", "TRACKR_LEDGER", "TRACKR_REDIS_URL", "TRACKR_LOG_FORMAT",
		"TRACKR_CORS_ALLOWED_ORIGINS", "TRACKR_CORS_ALLOW_CREDENTIALS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearAppEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LedgerBackend != LedgerMemory {
		t.Fatalf("ledger=%q want memory", cfg.LedgerBackend)
	}
	if cfg.LogFormat != "json" || cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.CORSAllowCredentials || len(cfg.CORSAllowedOrigins) == 0 {
		t.Fatalf("unexpected CORS defaults: %+v", cfg)
	}
}

func TestLoadConfig_DatabaseImpliesPostgresLedger(t *testing.T) {
	clearAppEnv(t)
	t.Setenv("TRACKR_DATABASE_URL", "postgres://localhost/trackr")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LedgerBackend != LedgerPostgres {
		t.Fatalf("ledger=%q want postgres", cfg.LedgerBackend)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"redis without url", map[string]string{"TRACKR_LEDGER": "redis"}},
		{"postgres without db", map[string]string{"TRACKR_LEDGER": "postgres"}},
		{"unknown ledger", map[string]string{"TRACKR_LEDGER": "etcd"}},
		{"unknown log format", map[string]string{"TRACKR_LOG_FORMAT": "xml"}},
		{"wildcard with credentials", map[string]string{"TRACKR_CORS_ALLOWED_ORIGINS": "*"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearAppEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); !errors.Is(err, ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
		})
	}
}

func TestLoadConfig_RedisLedger(t *testing.T) {
	clearAppEnv(t)
	t.Setenv("TRACKR_LEDGER", "REDIS")
	t.Setenv("TRACKR_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LedgerBackend != LedgerRedis {
		t.Fatalf("ledger=%q", cfg.LedgerBackend)
	}
}

func TestLoadConfig_CORSOriginList(t *testing.T) {
	clearAppEnv(t)
	t.Setenv("TRACKR_CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !slices.Equal(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("CORSAllowedOrigins=%q want=%q", cfg.CORSAllowedOrigins, want)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "TRACKR_TEST_DOTENV_NEW=from_file\nTRACKR_TEST_DOTENV_SET=from_file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	// Register both keys for restoration, then leave one unset.
	t.Setenv("TRACKR_TEST_DOTENV_NEW", "x")
	_ = os.Unsetenv("TRACKR_TEST_DOTENV_NEW")
	t.Setenv("TRACKR_TEST_DOTENV_SET", "from_process")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("TRACKR_TEST_DOTENV_NEW"); got != "from_file" {
		t.Fatalf("new key=%q", got)
	}
	if got := os.Getenv("TRACKR_TEST_DOTENV_SET"); got != "from_process" {
		t.Fatalf("existing env must win, got %q", got)
	}
}
