// Package envconf reads TRACKR_* settings from the process environment
// through a koanf snapshot.
//
// The lenient readers (String, Bool, Int, ...) fall back to a default on
// unset, blank or invalid values. Set leaves the destination alone when the
// variable is unset and reports invalid values as errors.
package envconf

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Prefix selects which variables are loaded.
const Prefix = "TRACKR_"

// Env is a point-in-time view of the TRACKR_* environment. Keys are the
// variable names unchanged.
type Env struct {
	k *koanf.Koanf
}

// Load snapshots the environment. Later changes are not observed.
func Load() (*Env, error) {
	k := koanf.New(".")
	keepName := func(s string) string { return s }
	if err := k.Load(env.Provider(Prefix, ".", keepName), nil); err != nil {
		return nil, fmt.Errorf("envconf: load: %w", err)
	}
	return &Env{k: k}, nil
}

// Lookup returns the trimmed value of key; ok is false when it is unset or blank.
func (e *Env) Lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.k.String(key))
	return v, v != ""
}

// Or parses key with parse, keeping def when the value is absent, fails to
// parse, or is rejected by valid (nil accepts everything).
func Or[T any](e *Env, key string, def T, parse func(string) (T, error), valid func(T) bool) T {
	raw, ok := e.Lookup(key)
	if !ok {
		return def
	}
	v, err := parse(raw)
	if err != nil || (valid != nil && !valid(v)) {
		return def
	}
	return v
}

// Set parses key into dst. An absent value leaves dst untouched.
func Set[T any](e *Env, key string, dst *T, parse func(string) (T, error), valid func(T) bool) error {
	raw, ok := e.Lookup(key)
	if !ok {
		return nil
	}
	v, err := parse(raw)
	if err != nil || (valid != nil && !valid(v)) {
		return fmt.Errorf("%s: invalid value %q", key, raw)
	}
	*dst = v
	return nil
}

func positive[T int | int32 | int64 | float64 | time.Duration](v T) bool { return v > 0 }

func parseString(s string) (string, error) { return s, nil }

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	return int32(n), err
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func (e *Env) String(key, def string) string { return Or(e, key, def, parseString, nil) }

func (e *Env) Bool(key string, def bool) bool { return Or(e, key, def, strconv.ParseBool, nil) }

// Int accepts positive values only.
func (e *Env) Int(key string, def int) int { return Or(e, key, def, strconv.Atoi, positive[int]) }

// Int32 accepts zero, so pool minimums can be disabled.
func (e *Env) Int32(key string, def int32) int32 {
	return Or(e, key, def, parseInt32, func(n int32) bool { return n >= 0 })
}

func (e *Env) Int64(key string, def int64) int64 {
	return Or(e, key, def, parseInt64, positive[int64])
}

func (e *Env) Float(key string, def float64) float64 {
	return Or(e, key, def, parseFloat, positive[float64])
}

func (e *Env) Duration(key string, def time.Duration) time.Duration {
	return Or(e, key, def, time.ParseDuration, positive[time.Duration])
}

// CSV reads a comma separated list. Blank entries are dropped, and a list
// with nothing left yields def.
func (e *Env) CSV(key string, def []string) []string {
	return Or(e, key, def, func(s string) ([]string, error) { return SplitCSV(s), nil },
		func(v []string) bool { return len(v) > 0 })
}

// SplitCSV splits on commas and drops blank entries.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *Env) SetBool(key string, dst *bool) error { return Set(e, key, dst, strconv.ParseBool, nil) }

// SetInt rejects zero and negatives.
func (e *Env) SetInt(key string, dst *int) error { return Set(e, key, dst, strconv.Atoi, positive[int]) }

func (e *Env) SetFloat(key string, dst *float64) error {
	return Set(e, key, dst, parseFloat, positive[float64])
}

func (e *Env) SetDuration(key string, dst *time.Duration) error {
	return Set(e, key, dst, time.ParseDuration, positive[time.Duration])
}
