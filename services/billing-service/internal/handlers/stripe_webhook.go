package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/invoices"
)

type WebhookHandler struct {
	svc    *invoices.Service
	logger *slog.Logger
}

func NewWebhookHandler(svc *invoices.Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, logger: logger}
}

// Register mounts the gateway webhook. It carries no session auth; the
// signature is the auth.
func (h *WebhookHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/billing/webhooks/stripe", h.Stripe)
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("missing Stripe-Signature header"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Validation("failed to read request body"))
		return
	}
	outcome, err := h.svc.HandleWebhook(r.Context(), body, sigHeader)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": string(outcome)})
}
