package authapi

import (
	"context"
	"net/http"
	"strings"

	"trackr/cmd/internal/auth/session"
)

type claimsKey struct{}

// RequireAuth rejects requests without a valid bearer access assertion and
// stores the verified claims in the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.sessions.VerifyAccess(bearerToken(r), h.now())
		if err != nil {
			h.log.Info("auth.bearer.reject", "err", err, "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Bearer realm="trackr"`)
			writeError(w, http.StatusUnauthorized, codeInvalidToken, tokenErrorMessage)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (session.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(session.AccessClaims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
