package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trackr/cmd/identity"
	"trackr/cmd/internal/auth/session"
	"trackr/cmd/internal/invite"
	"trackr/cmd/internal/membership"
)

const tokenErrorMessage = "invalid or expired session, please log in again"

// Sessions is the session protocol as seen by the HTTP layer.
// *session.Service satisfies it.
type Sessions interface {
	Register(ctx context.Context, now time.Time, in session.RegisterInput) (session.Result, error)
	Login(ctx context.Context, now time.Time, in session.LoginInput) (session.Result, error)
	Refresh(ctx context.Context, now time.Time, presented string) (session.Result, error)
	Logout(ctx context.Context, now time.Time, presented string)
	VerifyAccess(assertion string, now time.Time) (session.AccessClaims, error)
	User(ctx context.Context, userID string) (identity.User, error)
}

// Invites creates workspace invites on behalf of an authenticated actor.
type Invites interface {
	Create(ctx context.Context, now time.Time, actorUserID, workspaceID string, role membership.Role) (invite.Invite, string, error)
}

// Handler wires HTTP auth endpoints to the session protocol.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions
	invites  Invites
	limiter  *ipLimiter
	now      func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithInvites enables POST /workspaces/invites.
func WithInvites(inv Invites) HandlerOption {
	return func(h *Handler) { h.invites = inv }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(log *slog.Logger, cfg Config, sessions Sessions, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	d := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = d.MaxBodyBytes
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = d.RefreshCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = d.CookiePath
	}
	if cfg.RateIdleTTL <= 0 {
		cfg.RateIdleTTL = d.RateIdleTTL
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.RateLimit > 0 && cfg.RateBurst > 0 {
		h.limiter = newIPLimiter(cfg.RateLimit, cfg.RateBurst, cfg.RateIdleTTL)
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.Handle("/auth/me", h.RequireAuth(http.HandlerFunc(h.handleMe)))
	if h.invites != nil {
		mux.Handle("/workspaces/invites", h.RequireAuth(http.HandlerFunc(h.handleInviteCreate)))
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !h.admit(w, r) {
		return
	}

	var req registerRequest
	if !readJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}

	res, err := h.sessions.Register(r.Context(), h.now(), session.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		h.writeSessionError(w, "register", err)
		return
	}

	h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusCreated, toSessionResponse(res))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !h.admit(w, r) {
		return
	}

	var req loginRequest
	if !readJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}

	res, err := h.sessions.Login(r.Context(), h.now(), session.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeSessionError(w, "login", err)
		return
	}

	h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, toSessionResponse(res))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !h.admit(w, r) {
		return
	}

	res, err := h.sessions.Refresh(r.Context(), h.now(), h.presentedRefreshToken(r))
	if err != nil {
		if session.IsTokenError(err) {
			h.clearRefreshCookie(w)
		}
		h.writeSessionError(w, "refresh", err)
		return
	}

	h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, toSessionResponse(res))
}

// handleLogout always succeeds: the cookie is cleared whatever the ledger says.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	h.sessions.Logout(r.Context(), h.now(), h.presentedRefreshToken(r))
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	claims, _ := ClaimsFromContext(r.Context())

	u, err := h.sessions.User(r.Context(), claims.UserID)
	if err != nil {
		h.writeSessionError(w, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	claims, _ := ClaimsFromContext(r.Context())

	var req inviteRequest
	if !readJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	role, err := membership.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "role: invalid")
		return
	}

	inv, code, err := h.invites.Create(r.Context(), h.now(), claims.UserID, strings.TrimSpace(req.WorkspaceID), role)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, inviteResponse{ID: inv.ID, Code: code, ExpiresAt: inv.ExpiresAt})
	case errors.Is(err, invite.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "workspaceId and role are required")
	case errors.Is(err, invite.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "not allowed to invite to this workspace")
	default:
		h.log.Error("auth.invite.create.fail", "err", err, "user_id", claims.UserID)
		writeError(w, http.StatusInternalServerError, codeServerError, "internal error")
	}
}

// admit applies the per-IP limiter.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	ip := clientIP(r, h.cfg.TrustProxy)
	if ip == nil {
		return true
	}
	ok, retry := h.limiter.allow(ip.String(), time.Now())
	if !ok {
		h.log.Warn("auth.rate_limited", "ip", ip.String(), "path", r.URL.Path)
		writeRateLimited(w, retry)
	}
	return ok
}

// writeSessionError maps a session error to its wire form. Token errors all
// look the same to the client; the precise kind is logged.
func (h *Handler) writeSessionError(w http.ResponseWriter, op string, err error) {
	switch session.KindOf(err) {
	case session.KindValidation:
		msg := "invalid request"
		var ve *session.ValidationError
		if errors.As(err, &ve) {
			msg = ve.Field + ": " + ve.Reason
		}
		writeError(w, http.StatusBadRequest, codeInvalidRequest, msg)
	case session.KindAuthentication:
		if errors.Is(err, session.ErrEmailInUse) {
			writeError(w, http.StatusConflict, codeEmailInUse, "email already registered")
			return
		}
		h.log.Info("auth."+op+".fail", "reason", "invalid_credentials")
		writeError(w, http.StatusUnauthorized, codeBadCredentials, "invalid email or password")
	case session.KindToken:
		h.log.Info("auth."+op+".token", "err", err)
		writeError(w, http.StatusUnauthorized, codeInvalidToken, tokenErrorMessage)
	default:
		h.log.Error("auth."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeServerError, "internal error")
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	return false
}
