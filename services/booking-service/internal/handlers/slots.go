package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/libs/metrics"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/availability"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/lifecycle"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
)

// SlotStore is the read side the public slots endpoint needs.
type SlotStore interface {
	GetService(ctx context.Context, tenantID, id string) (model.Service, error)
	BusyIntervals(ctx context.Context, tenantID string, start, end time.Time) ([]model.Appointment, error)
}

type SlotsHandler struct {
	store   SlotStore
	configs lifecycle.ConfigSource
	logger  *slog.Logger
	metrics *metrics.SchedulingMetrics
}

func NewSlotsHandler(store SlotStore, configs lifecycle.ConfigSource, logger *slog.Logger, m *metrics.SchedulingMetrics) *SlotsHandler {
	return &SlotsHandler{store: store, configs: configs, logger: logger, metrics: m}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

type slotsResponse struct {
	Date            string     `json:"date"`
	DurationMinutes int        `json:"duration_minutes"`
	Reason          string     `json:"reason,omitempty"`
	Slots           []slotItem `json:"slots"`
}

func (h *SlotsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := strings.TrimSpace(q.Get("tenant_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if tenantID == "" || serviceID == "" || dateStr == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("tenant_id, service_id, and date are required"))
		return
	}
	date, err := time.Parse(time.DateOnly, dateStr)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Validation("date must be YYYY-MM-DD"))
		return
	}

	ctx := r.Context()
	cfg, err := h.configs.Get(ctx, tenantID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	svc, err := h.store.GetService(ctx, tenantID, serviceID)
	if errors.Is(err, model.ErrNotFound) {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("service not found"))
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Persistence("load service", err))
		return
	}

	duration := svc.DurationMin
	if raw := strings.TrimSpace(q.Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, r, h.logger, apperr.Validation("duration_minutes must be a positive integer"))
			return
		}
		duration = n
	}
	duration = cfg.FloorDuration(duration)

	dayStart, dayEnd := availability.DayBounds(date, cfg.Loc())
	booked, err := h.store.BusyIntervals(ctx, tenantID, dayStart, dayEnd)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Persistence("load booked intervals", err))
		return
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, a := range booked {
		if a.Status == model.StatusCancelled {
			continue
		}
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}

	res, err := availability.ComputeSlots(date, cfg, duration, busy)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	outcome := res.Reason
	if outcome == "" {
		outcome = "open"
	}
	h.metrics.ObserveSlots(outcome)

	resp := slotsResponse{Date: dateStr, DurationMinutes: duration, Reason: res.Reason, Slots: make([]slotItem, 0, len(res.Slots))}
	for _, s := range res.Slots {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
			Available: s.Available,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
