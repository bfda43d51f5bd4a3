package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/tenantconfig"
)

type ConfigHandler struct {
	configs *tenantconfig.Service
	logger  *slog.Logger
}

func NewConfigHandler(configs *tenantconfig.Service, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{configs: configs, logger: logger}
}

func (h *ConfigHandler) Register(mux *http.ServeMux, authn httpx.Middleware) {
	adminOnly := auth.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin)
	mux.Handle("GET /api/v1/config", authn(http.HandlerFunc(h.Get)))
	mux.Handle("PUT /api/v1/config", authn(adminOnly(http.HandlerFunc(h.Upsert))))
}

type configResponse struct {
	tenantconfig.Input
	TenantID string `json:"tenant_id"`
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	cfg, err := h.configs.Get(r.Context(), p.TenantID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, configResponse{Input: cfg.Input(), TenantID: p.TenantID})
}

func (h *ConfigHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var in tenantconfig.Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	cfg, err := h.configs.Upsert(r.Context(), p.TenantID, in)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.logger.Info("tenant config saved", "tenant_id", p.TenantID, "updated_by", p.UserID)
	httpx.WriteJSON(w, http.StatusOK, configResponse{Input: cfg.Input(), TenantID: p.TenantID})
}
