package authapi

import (
	"net/http"
	"strings"
	"time"
)

// refreshCookie builds the refresh cookie. It is always HttpOnly; the other
// attributes come from Config.
func (h *Handler) refreshCookie(value string, exp time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
}

// setRefreshCookie carries a rotated token; its lifetime mirrors the record.
func (h *Handler) setRefreshCookie(w http.ResponseWriter, raw string, exp time.Time) {
	http.SetCookie(w, h.refreshCookie(raw, exp.UTC(), 0))
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, h.refreshCookie("", time.Unix(0, 0).UTC(), -1))
}

// presentedRefreshToken returns the cookie value, or "" when absent.
func (h *Handler) presentedRefreshToken(r *http.Request) string {
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
