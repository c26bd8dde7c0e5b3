package password

import (
	"fmt"
	"runtime"
	"strconv"

	"trackr/cmd/internal/envconf"
)

// Argon2idParams controls hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls which passwords Register accepts.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns interactive-login cost (64 MiB, t=3) and an 8..256 rune policy.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// FromEnv overlays TRACKR_PASSWORD_* and TRACKR_ARGON2_* variables on DefaultConfig.
func FromEnv() (Config, error) {
	env, err := envconf.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		lo, hi   uint64
		assignTo func(uint64)
	}{
		{"TRACKR_PASSWORD_MIN_LEN", 1, 1024, func(v uint64) { cfg.Policy.MinLength = int(v) }},
		{"TRACKR_PASSWORD_MAX_LEN", 1, 4096, func(v uint64) { cfg.Policy.MaxLength = int(v) }},
		{"TRACKR_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(v uint64) { cfg.Params.MemoryKiB = uint32(v) }},
		{"TRACKR_ARGON2_ITERATIONS", 1, 20, func(v uint64) { cfg.Params.Iterations = uint32(v) }},
		{"TRACKR_ARGON2_PARALLELISM", 1, 64, func(v uint64) { cfg.Params.Parallelism = uint8(v) }},
		{"TRACKR_ARGON2_SALT_LEN", 8, 64, func(v uint64) { cfg.Params.SaltLength = uint32(v) }},
		{"TRACKR_ARGON2_KEY_LEN", 16, 64, func(v uint64) { cfg.Params.KeyLength = uint32(v) }},
	}
	parseUint := func(s string) (uint64, error) { return strconv.ParseUint(s, 10, 32) }
	for _, e := range ints {
		if _, set := env.Lookup(e.key); !set {
			continue
		}
		var v uint64
		inRange := func(n uint64) bool { return n >= e.lo && n <= e.hi }
		if err := envconf.Set(env, e.key, &v, parseUint, inRange); err != nil {
			return Config{}, fmt.Errorf("%w: want integer in [%d..%d]", err, e.lo, e.hi)
		}
		e.assignTo(v)
	}

	if err := env.SetBool("TRACKR_PASSWORD_REJECT_VERY_WEAK", &cfg.Policy.RejectVeryWeak); err != nil {
		return Config{}, err
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy: min_len(%d) > max_len(%d)", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}
