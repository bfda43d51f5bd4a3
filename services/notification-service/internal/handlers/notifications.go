package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/dispatch"
)

type NotificationHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewNotificationHandler(d *dispatch.Dispatcher, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: d, logger: logger}
}

func (h *NotificationHandler) Register(mux *http.ServeMux, authn httpx.Middleware) {
	mux.Handle("POST /api/v1/admin/notifications", authn(http.HandlerFunc(h.Send)))
}

type sendRequest struct {
	AppointmentID string `json:"appointment_id"`
	Type          string `json:"type"`
}

// Send lets staff push a notification by hand, e.g. a second EN_ROUTE.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Authorization("missing principal"))
		return
	}
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.AppointmentID == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("appointment_id is required"))
		return
	}
	typ, err := dispatch.ParseType(req.Type)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	res, err := h.dispatcher.SendAs(r.Context(), p, req.AppointmentID, typ)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
