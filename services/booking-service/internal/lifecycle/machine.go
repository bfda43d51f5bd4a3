// Package lifecycle applies the appointment state machine. Every mutation runs
// in one transaction that locks the appointment row and writes its
// notification events to the outbox.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/metrics"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/billing"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/tenantconfig"
)

// CancellationWindow is the minimum notice for cancelling an appointment.
const CancellationWindow = 24 * time.Hour

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListAppointments(ctx context.Context, f ListFilter) ([]model.Appointment, error)
	GetCustomerByUser(ctx context.Context, tenantID, userID string) (model.Customer, error)
}

type Tx interface {
	billing.InvoiceWriter
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	GetCustomer(ctx context.Context, id string) (model.Customer, error)
	GetService(ctx context.Context, id string) (model.Service, error)
	GetEmployee(ctx context.Context, id string) (model.Employee, error)
	InsertAppointment(ctx context.Context, a *model.Appointment) error
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
	// ClaimIdempotencyKey locks the key row, creating it when absent. The
	// returned appointment id is empty until the key is finalized.
	ClaimIdempotencyKey(ctx context.Context, tenantID, key string) (appointmentID string, err error)
	FinalizeIdempotencyKey(ctx context.Context, tenantID, key, appointmentID string) error
}

type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (tenantconfig.Config, error)
}

type ListFilter struct {
	TenantID   string
	CustomerID string
	From       time.Time
	To         time.Time
	Limit      int
}

type Machine struct {
	store   Store
	configs ConfigSource
	logger  *slog.Logger
	sched   *metrics.SchedulingMetrics
	billing *metrics.BillingMetrics
	now     func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func WithMetrics(s *metrics.SchedulingMetrics, b *metrics.BillingMetrics) Option {
	return func(m *Machine) {
		m.sched = s
		m.billing = b
	}
}

func NewMachine(store Store, configs ConfigSource, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{store: store, configs: configs, logger: logger, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// fail converts unexpected errors into a logged persistence error.
func (m *Machine) fail(op, id string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, model.ErrNotFound) {
		return apperr.NotFound("appointment not found")
	}
	m.logger.Error("appointment operation failed", "op", op, "appointment_id", id, "err", err)
	return apperr.Persistence(op, err)
}

// load locks the appointment and checks it belongs to the caller's tenant.
func load(ctx context.Context, tx Tx, p auth.Principal, id string) (model.Appointment, error) {
	appt, err := tx.GetAppointmentForUpdate(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.TenantID != p.TenantID {
		return model.Appointment{}, apperr.Authorization("appointment belongs to another tenant")
	}
	return appt, nil
}

// requireOwner rejects CLIENT principals acting on someone else's appointment.
func requireOwner(ctx context.Context, tx Tx, p auth.Principal, appt model.Appointment) (model.Customer, error) {
	cust, err := tx.GetCustomer(ctx, appt.CustomerID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Customer{}, apperr.NotFound("customer not found")
	}
	if err != nil {
		return model.Customer{}, err
	}
	if p.Role == auth.RoleClient && (cust.UserID == nil || *cust.UserID != p.UserID) {
		return model.Customer{}, apperr.Authorization("appointment belongs to another customer")
	}
	return cust, nil
}

func requireRole(p auth.Principal, roles ...auth.Role) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return apperr.Authorization("role " + string(p.Role) + " may not perform this action")
}

func (m *Machine) transition(ctx context.Context, tx Tx, appt *model.Appointment, ev Event) error {
	to, err := Next(appt.Status, ev)
	if err != nil {
		return err
	}
	now := m.now()
	appt.Status = to
	appt.UpdatedAt = now
	if to == model.StatusAwaitingConfirmation {
		appt.CleanerConfirmationDate = &now
	}
	if err := tx.UpdateAppointment(ctx, *appt); err != nil {
		return err
	}
	if typ, ok := notifyOn[to]; ok {
		if err := tx.InsertEvent(ctx, outbox.NotifyEvent(*appt, typ, now)); err != nil {
			return err
		}
	}
	m.sched.ObserveTransition(string(ev), string(to))
	return nil
}

func appendNotes(existing, extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return existing
	}
	if existing == "" {
		return extra
	}
	return existing + "\n" + extra
}
