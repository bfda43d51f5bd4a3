package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/lifecycle"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
)

type AppointmentHandler struct {
	machine *lifecycle.Machine
	logger  *slog.Logger
}

func NewAppointmentHandler(machine *lifecycle.Machine, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{machine: machine, logger: logger}
}

// Register mounts the appointment routes behind authn.
func (h *AppointmentHandler) Register(mux *http.ServeMux, authn httpx.Middleware) {
	mux.Handle("POST /api/v1/appointments", authn(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/v1/appointments", authn(http.HandlerFunc(h.List)))
	mux.Handle("POST /api/v1/appointments/{id}/cancel", authn(http.HandlerFunc(h.Cancel)))
	mux.Handle("POST /api/v1/appointments/{id}/reschedule", authn(http.HandlerFunc(h.Reschedule)))
	mux.Handle("POST /api/v1/appointments/{id}/status", authn(http.HandlerFunc(h.Advance)))
	mux.Handle("POST /api/v1/appointments/{id}/confirm", authn(http.HandlerFunc(h.ClientConfirm)))
	mux.Handle("POST /api/v1/appointments/{id}/finish", authn(http.HandlerFunc(h.Finish)))
}

type createAppointmentRequest struct {
	CustomerID      string `json:"customer_id"`
	ServiceID       string `json:"service_id"`
	EmployeeID      string `json:"employee_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes *int   `json:"duration_minutes"`
}

type appointmentResponse struct {
	ID                      string   `json:"id"`
	CustomerID              string   `json:"customer_id"`
	ServiceID               string   `json:"service_id"`
	EmployeeID              *string  `json:"employee_id,omitempty"`
	StartTime               string   `json:"start_time"`
	EndTime                 string   `json:"end_time"`
	Status                  string   `json:"status"`
	Price                   string   `json:"price"`
	Notes                   string   `json:"notes,omitempty"`
	ProofImages             []string `json:"proof_images"`
	ClientConfirmationDate  string   `json:"client_confirmation_date,omitempty"`
	CleanerConfirmationDate string   `json:"cleaner_confirmation_date,omitempty"`
	InvoiceID               *string  `json:"invoice_id,omitempty"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:          a.ID,
		CustomerID:  a.CustomerID,
		ServiceID:   a.ServiceID,
		EmployeeID:  a.EmployeeID,
		StartTime:   a.StartTime.UTC().Format(time.RFC3339),
		EndTime:     a.EndTime.UTC().Format(time.RFC3339),
		Status:      string(a.Status),
		Price:       a.Price.StringFixed(2),
		Notes:       a.Notes,
		ProofImages: a.ProofImages,
		InvoiceID:   a.InvoiceID,
	}
	if resp.ProofImages == nil {
		resp.ProofImages = []string{}
	}
	if a.ClientConfirmationDate != nil {
		resp.ClientConfirmationDate = a.ClientConfirmationDate.UTC().Format(time.RFC3339)
	}
	if a.CleanerConfirmationDate != nil {
		resp.CleanerConfirmationDate = a.CleanerConfirmationDate.UTC().Format(time.RFC3339)
	}
	return resp
}

func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Principal{}, apperr.Authorization("missing principal")
	}
	return p, nil
}

func parseTime(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.Validation("invalid " + field)
	}
	return t, nil
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var employeeID *string
	if id := strings.TrimSpace(req.EmployeeID); id != "" {
		employeeID = &id
	}

	appt, err := h.machine.Create(r.Context(), p, lifecycle.CreateRequest{
		CustomerID:     strings.TrimSpace(req.CustomerID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		EmployeeID:     employeeID,
		Start:          start,
		DurationMin:    req.DurationMinutes,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	from, err := parseTime("from", q.Get("from"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	to, err := parseTime("to", q.Get("to"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	limit := 100
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	appts, err := h.machine.List(r.Context(), p, from, to, limit)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	appt, err := h.machine.Cancel(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type rescheduleRequest struct {
	StartTime string `json:"start_time"`
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	appt, err := h.machine.Reschedule(r.Context(), p, r.PathValue("id"), start)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type advanceRequest struct {
	Status string `json:"status"`
}

func (h *AppointmentHandler) Advance(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req advanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	status, ok := model.ParseStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Validation("unknown status"))
		return
	}
	appt, err := h.machine.Advance(r.Context(), p, r.PathValue("id"), status)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type confirmResponse struct {
	Appointment appointmentResponse `json:"appointment"`
	InvoiceID   string              `json:"invoice_id,omitempty"`
}

func (h *AppointmentHandler) ClientConfirm(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	appt, inv, err := h.machine.ClientConfirm(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	resp := confirmResponse{Appointment: toAppointmentResponse(appt)}
	if inv != nil {
		resp.InvoiceID = inv.ID
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type finishRequest struct {
	ProofImages []string `json:"proof_images"`
	Notes       string   `json:"notes"`
}

func (h *AppointmentHandler) Finish(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req finishRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	appt, err := h.machine.Finish(r.Context(), p, r.PathValue("id"), req.ProofImages, req.Notes)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}
