package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/invoices"
)

type InvoiceHandler struct {
	svc    *invoices.Service
	logger *slog.Logger
}

func NewInvoiceHandler(svc *invoices.Service, logger *slog.Logger) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, logger: logger}
}

// Register mounts the invoice routes behind authn.
func (h *InvoiceHandler) Register(mux *http.ServeMux, authn httpx.Middleware) {
	mux.Handle("GET /api/v1/invoices", authn(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/v1/invoices/{id}", authn(http.HandlerFunc(h.Get)))
	mux.Handle("POST /api/v1/invoices/{id}/payment-link", authn(http.HandlerFunc(h.PaymentLink)))
}

type invoiceResponse struct {
	ID             string   `json:"id"`
	CustomerID     string   `json:"customer_id"`
	Amount         string   `json:"amount"`
	Status         string   `json:"status"`
	DueDate        string   `json:"due_date"`
	PaymentURL     string   `json:"payment_url,omitempty"`
	PaidAt         string   `json:"paid_at,omitempty"`
	AppointmentIDs []string `json:"appointment_ids"`
}

func toInvoiceResponse(inv invoices.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:             inv.ID,
		CustomerID:     inv.CustomerID,
		Amount:         inv.Amount.StringFixed(2),
		Status:         string(inv.Status),
		DueDate:        inv.DueDate.Format(time.DateOnly),
		PaymentURL:     inv.PaymentURL,
		AppointmentIDs: inv.AppointmentIDs,
	}
	if resp.AppointmentIDs == nil {
		resp.AppointmentIDs = []string{}
	}
	if inv.PaidAt != nil {
		resp.PaidAt = inv.PaidAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.WriteError(w, r, h.logger, apperr.Validation("invalid limit"))
			return
		}
	}
	list, err := h.svc.List(r.Context(), p, r.URL.Query().Get("customer_id"), limit)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	out := make([]invoiceResponse, 0, len(list))
	for _, inv := range list {
		out = append(out, toInvoiceResponse(inv))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"invoices": out})
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	inv, err := h.svc.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *InvoiceHandler) PaymentLink(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	inv, err := h.svc.CreatePaymentLink(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"invoice_id":   inv.ID,
		"link_id":      inv.PaymentLinkID,
		"checkout_url": inv.PaymentURL,
	})
}

func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Principal{}, apperr.Authorization("missing principal")
	}
	return p, nil
}
