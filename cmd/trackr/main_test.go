package main

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newCLI()
	a.Writer = &out
	a.ErrWriter = &out
	err := a.Run(append([]string{"trackr"}, args...))
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := runCLI(t, "keygen")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	key := strings.TrimSpace(out)
	raw, err := hex.DecodeString(key)
	if err != nil {
		t.Fatalf("keygen output is not hex: %q", key)
	}
	if len(raw) != 64 {
		t.Fatalf("secret key bytes=%d want 64", len(raw))
	}

	again, _ := runCLI(t, "keygen")
	if strings.TrimSpace(again) == key {
		t.Fatalf("keygen returned the same key twice")
	}
}

func TestMigrate_Rejects(t *testing.T) {
	t.Setenv("TRACKR_DATABASE_URL", "")

	if _, err := runCLI(t, "migrate", "sideways"); err == nil || !strings.Contains(err.Error(), "direction") {
		t.Fatalf("bad direction err=%v", err)
	}
	if _, err := runCLI(t, "migrate", "up"); err == nil || !strings.Contains(err.Error(), "TRACKR_DATABASE_URL") {
		t.Fatalf("missing dsn err=%v", err)
	}
}

func TestSmoke_RefusedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, err := runCLI(t, "smoke", "--url", wsURL, "--token", "bogus", "--workspace", "w1", "--timeout", "2s")
	if err == nil || !strings.Contains(err.Error(), "HTTP 401") {
		t.Fatalf("smoke err=%v want HTTP 401 refusal", err)
	}
}

func TestSmoke_RequiresFlags(t *testing.T) {
	if _, err := runCLI(t, "smoke", "--workspace", "w1"); err == nil {
		t.Fatalf("smoke without --token should fail")
	}
}

func TestValidateWSURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in string
		ok bool
	}{
		{"ws://127.0.0.1:8080/ws", true},
		{"wss://trackr.example.com/ws", true},
		{"http://127.0.0.1:8080/ws", false},
		{"ws:///ws", false},
		{"ws://127.0.0.1:8080", false},
	}
	for _, tc := range cases {
		if err := validateWSURL(tc.in); (err == nil) != tc.ok {
			t.Fatalf("validateWSURL(%q) err=%v want ok=%v", tc.in, err, tc.ok)
		}
	}

	if err := validateOrigin(""); err != nil {
		t.Fatalf("empty origin should be allowed: %v", err)
	}
	if err := validateOrigin("ftp://localhost"); err == nil {
		t.Fatalf("ftp origin accepted")
	}
}
