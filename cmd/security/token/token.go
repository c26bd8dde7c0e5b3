package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"trackr/cmd/internal/envconf"
)

const (
	// HMACEnvKey names the env var holding the digest key.
	// #nosec G101 -- env var name, not a credential.
	HMACEnvKey = "TRACKR_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the policy minimum for HMAC-SHA256 keys.
	MinHMACKeyBytes = 32

	DefaultOpaqueBytes = 32
)

var (
	ErrHMACKeyMissing  = errors.New("token: " + HMACEnvKey + " is required but unset")
	ErrHMACKeyTooShort = errors.New("token: HMAC key shorter than 32 bytes")
)

// Hasher computes the storage digest of opaque tokens.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed with key. An empty key selects SHA-256.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from TRACKR_TOKEN_HMAC_KEY.
// When requireHMAC is set a missing or short key is an error.
func HasherFromEnv(requireHMAC bool) (Hasher, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch {
	case err == nil:
		return NewHasher(key), nil
	case requireHMAC:
		return Hasher{}, err
	case errors.Is(err, ErrHMACKeyTooShort):
		// A short key that is set is still a misconfiguration.
		return Hasher{}, err
	default:
		return Hasher{}, nil
	}
}

// Keyed reports whether h uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest of raw.
func (h Hasher) Hash(raw string) string {
	if !h.Keyed() {
		return HashSHA256Hex(raw)
	}
	return HashHMACSHA256Hex(raw, h.key)
}

// HashSHA256Hex returns the SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns the HMAC-SHA256 hex digest of s under key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the trimmed key bytes, enforcing minBytes.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	env, err := envconf.Load()
	if err != nil {
		return nil, err
	}
	raw, ok := env.Lookup(HMACEnvKey)
	if !ok {
		return nil, ErrHMACKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return []byte(raw), nil
}

// NewOpaque returns nBytes of crypto randomness as unpadded base64url.
// The result is a bearer credential and must never be logged.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultOpaqueBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
