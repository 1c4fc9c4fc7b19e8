package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/radarhq/identity"
	"github.com/radarhq/identity/middleware"
	"github.com/radarhq/identity/oauth"
)

// Handler exposes the identity engine over HTTP. Routes mirror the
// engine's operations one to one; all bodies are JSON.
type Handler struct {
	svc    *identity.Service
	logger *slog.Logger
}

func NewHandler(svc *identity.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes builds the full router: public auth endpoints plus the
// authenticated account surface.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", h.register)
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/mfa/login", h.mfaLogin)
	mux.HandleFunc("POST /auth/refresh", h.refresh)
	mux.HandleFunc("POST /auth/password/reset", h.requestReset)
	mux.HandleFunc("POST /auth/password/confirm", h.confirmReset)
	mux.HandleFunc("GET /auth/oauth/{provider}/url", h.oauthURL)
	mux.HandleFunc("POST /auth/oauth/{provider}/callback", h.oauthCallback)

	authed := middleware.Authenticate(h.svc)
	mux.Handle("GET /auth/me", authed(http.HandlerFunc(h.me)))
	mux.Handle("POST /auth/password/change", authed(http.HandlerFunc(h.changePassword)))
	mux.Handle("POST /auth/mfa/provision", authed(http.HandlerFunc(h.provisionMFA)))
	mux.Handle("POST /auth/mfa/enable", authed(http.HandlerFunc(h.enableMFA)))
	mux.Handle("POST /auth/mfa/disable", authed(http.HandlerFunc(h.disableMFA)))
	mux.Handle("POST /auth/mfa/backup-codes", authed(http.HandlerFunc(h.regenerateBackupCodes)))

	return mux
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Role      string `json:"role"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.svc.Register(r.Context(), identity.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      identity.Role(req.Role),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"id":    account.ID,
		"email": account.Email,
		"role":  account.Role,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLoginResult(w, result)
}

func (h *Handler) mfaLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Code      string `json:"code"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.svc.CompleteMFALogin(r.Context(), req.AccountID, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	access, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (h *Handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	// The response is identical whether or not the account exists; the
	// token travels out of band (mail delivery is outside this service).
	if _, err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the address is registered, a reset link has been sent",
	})
}

func (h *Handler) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, r, identity.ErrTokenInvalid)
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.ChangePassword(r.Context(), principal.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, r, identity.ErrTokenInvalid)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":          principal.AccountID,
		"email":       principal.Email,
		"role":        principal.Role,
		"mfa_enabled": principal.MFAEnabled,
	})
}

func (h *Handler) provisionMFA(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, r, identity.ErrTokenInvalid)
		return
	}

	provision, err := h.svc.ProvisionTOTP(r.Context(), principal.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"secret": provision.Secret,
		"uri":    provision.URI,
	})
}

func (h *Handler) enableMFA(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, r, identity.ErrTokenInvalid)
		return
	}

	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	codes, err := h.svc.EnableMFA(r.Context(), principal.AccountID, req.Secret, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// The only time these codes are ever visible.
	h.writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (h *Handler) disableMFA(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, r, identity.ErrTokenInvalid)
		return
	}

	if err := h.svc.DisableMFA(r.Context(), principal.AccountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "mfa disabled"})
}

func (h *Handler) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, r, identity.ErrTokenInvalid)
		return
	}

	codes, err := h.svc.RegenerateBackupCodes(r.Context(), principal.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (h *Handler) oauthURL(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	redirectURI := r.URL.Query().Get("redirect_uri")
	state := r.URL.Query().Get("state")

	url, err := h.svc.OAuthAuthorizationURL(provider, redirectURI, state)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	var req struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirect_uri"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.LoginWithOAuth(r.Context(), provider, req.Code, req.RedirectURI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLoginResult(w, result)
}

func (h *Handler) writeLoginResult(w http.ResponseWriter, result *identity.LoginResult) {
	if result.MFARequired {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"mfa_required": true,
			"account_id":   result.AccountID,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, result.Tokens)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the engine's error taxonomy to HTTP statuses. Internal
// detail is logged, never returned.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *identity.ValidationError
		locked     *identity.LockedError
		rateLimit  *identity.RateLimitError
		exchange   *oauth.ExchangeError
	)

	switch {
	case errors.As(err, &validation):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validation.Message,
			"field": validation.Field,
		})
	case errors.As(err, &rateLimit):
		retryAfter := int(time.Until(rateLimit.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	case errors.As(err, &locked):
		h.writeJSON(w, http.StatusLocked, map[string]string{"error": locked.Error()})
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrMFAInvalidCode),
		errors.Is(err, identity.ErrTokenInvalid):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
	case errors.Is(err, identity.ErrAccountInactive):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "account inactive"})
	case errors.Is(err, identity.ErrDuplicateEmail):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
	case errors.Is(err, identity.ErrInvalidResetGrant):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or expired reset token"})
	case errors.Is(err, identity.ErrMFANotEnabled),
		errors.Is(err, identity.ErrMFAAlreadyEnabled):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, identity.ErrUnknownProvider):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
	case errors.As(err, &exchange):
		h.logger.ErrorContext(r.Context(), "oauth exchange failed",
			"provider", exchange.Provider, "status", exchange.StatusCode)
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "provider exchange failed"})
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
