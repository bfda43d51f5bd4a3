package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/billing"
)

type BillingHandler struct {
	runner *billing.Runner
	loc    *time.Location
	logger *slog.Logger
}

func NewBillingHandler(runner *billing.Runner, loc *time.Location, logger *slog.Logger) *BillingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BillingHandler{runner: runner, loc: loc, logger: logger}
}

func (h *BillingHandler) Register(mux *http.ServeMux, authn httpx.Middleware) {
	adminOnly := auth.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin)
	mux.Handle("POST /api/v1/admin/billing/run", authn(adminOnly(http.HandlerFunc(h.Run))))
}

type billingRunRequest struct {
	Date string `json:"date"`
}

type billingRunResponse struct {
	Date     string          `json:"date"`
	TenantID string          `json:"tenant_id,omitempty"`
	Ran      bool            `json:"ran"`
	Summary  billing.Summary `json:"summary"`
}

// Run triggers the daily cycle for the given date (default today).
// ADMIN runs bill the caller's tenant only; SUPER_ADMIN runs bill every tenant.
func (h *BillingHandler) Run(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	scope := p.TenantID
	if p.Role == auth.RoleSuperAdmin {
		scope = ""
	} else if scope == "" {
		httpx.WriteError(w, r, h.logger, apperr.Authorization("principal has no tenant"))
		return
	}

	var req billingRunRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, h.logger, err)
			return
		}
	}
	day := time.Now().In(h.loc)
	if s := strings.TrimSpace(req.Date); s != "" {
		d, err := time.ParseInLocation(time.DateOnly, s, h.loc)
		if err != nil {
			httpx.WriteError(w, r, h.logger, apperr.Validation("date must be YYYY-MM-DD"))
			return
		}
		day = d
	}
	sum, ran, err := h.runner.RunNow(r.Context(), day, "manual", scope)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Persistence("billing run", err))
		return
	}
	status := http.StatusOK
	if !ran {
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, billingRunResponse{
		Date:     day.Format(time.DateOnly),
		TenantID: scope,
		Ran:      ran,
		Summary:  sum,
	})
}
