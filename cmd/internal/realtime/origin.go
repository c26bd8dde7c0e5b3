package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

var (
	errOriginMissing = errors.New("origin header required")
	errOriginRefused = errors.New("origin not in allowlist")
)

// checkOrigin applies the allowlist before the upgrade so that a refused
// origin never reaches websocket.Accept. Entries match on the full origin or
// on the host alone, ignoring scheme and port; "*" admits everything.
func checkOrigin(r *http.Request, required bool, allowed []string) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	switch {
	case origin == "" && required:
		return errOriginMissing
	case origin == "":
		return nil
	case slices.Contains(allowed, "*"), slices.Contains(allowed, origin):
		return nil
	}

	if host := hostOf(origin); host != "" {
		if slices.ContainsFunc(allowed, func(a string) bool { return hostOf(a) == host }) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", errOriginRefused, origin)
}

// hostOf lowercases the host part of an origin or bare host[:port].
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(s)
}

// originPatterns turns the allowlist into websocket.AcceptOptions
// OriginPatterns. The library matches host:port, hence two patterns per host.
func originPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		h := hostOf(a)
		if h == "" || h == "*" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h, h+":*")
	}
	slices.Sort(out)
	return out
}
