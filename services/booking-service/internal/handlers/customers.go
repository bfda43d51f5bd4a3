package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/customers"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
)

type CustomerHandler struct {
	customers *customers.Service
	logger    *slog.Logger
}

func NewCustomerHandler(svc *customers.Service, logger *slog.Logger) *CustomerHandler {
	return &CustomerHandler{customers: svc, logger: logger}
}

func (h *CustomerHandler) Register(mux *http.ServeMux, authn httpx.Middleware) {
	adminOnly := auth.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin)
	mux.Handle("POST /api/v1/customers", authn(adminOnly(http.HandlerFunc(h.Create))))
	mux.Handle("GET /api/v1/customers/{id}", authn(adminOnly(http.HandlerFunc(h.Get))))
	mux.Handle("POST /api/v1/customers/geocode", authn(adminOnly(http.HandlerFunc(h.Geocode))))
}

type customerResponse struct {
	ID         string   `json:"id"`
	UserID     *string  `json:"user_id,omitempty"`
	Name       string   `json:"name"`
	Email      string   `json:"email,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	Address    string   `json:"address,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	Frequency  string   `json:"frequency"`
	BillingDay int      `json:"billing_day"`
	Active     bool     `json:"active"`
}

func toCustomerResponse(c model.Customer) customerResponse {
	return customerResponse{
		ID:         c.ID,
		UserID:     c.UserID,
		Name:       c.Name,
		Email:      c.Email,
		Phone:      c.Phone,
		Address:    c.Address,
		Lat:        c.Lat,
		Lng:        c.Lng,
		Frequency:  string(c.Frequency),
		BillingDay: c.BillingDay,
		Active:     c.Active,
	}
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req customers.CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	c, err := h.customers.Create(r.Context(), p.TenantID, req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toCustomerResponse(c))
}

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	c, err := h.customers.Get(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCustomerResponse(c))
}

func (h *CustomerHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		limit = n
	}
	res, err := h.customers.GeocodeMissing(r.Context(), p.TenantID, limit)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
