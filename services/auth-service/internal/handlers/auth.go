package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/auth-service/internal/accounts"
)

type AuthHandler struct {
	svc    *accounts.Service
	logger *slog.Logger
}

func NewAuthHandler(svc *accounts.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

// Register mounts the session routes. Credential endpoints go through
// throttle; /me sits behind authn.
func (h *AuthHandler) Register(mux *http.ServeMux, authn, throttle httpx.Middleware) {
	mux.Handle("POST /api/v1/auth/register", throttle(http.HandlerFunc(h.Signup)))
	mux.Handle("POST /api/v1/auth/login", throttle(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/v1/auth/refresh", throttle(http.HandlerFunc(h.Refresh)))
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)
	mux.Handle("GET /api/v1/auth/me", authn(http.HandlerFunc(h.Me)))
}

type signupRequest struct {
	CompanyName string `json:"company_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type signupResponse struct {
	TenantID string `json:"tenant_id"`
	accounts.Tokens
}

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	tok, tenantID, err := h.svc.Register(r.Context(), accounts.RegisterInput{
		CompanyName: req.CompanyName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, signupResponse{TenantID: tenantID, Tokens: tok})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	tok, err := h.svc.Login(r.Context(), req.TenantID, req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tok)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	tok, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tok)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Authentication("missing principal"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{UserID: p.UserID, TenantID: p.TenantID, Role: string(p.Role)})
}
