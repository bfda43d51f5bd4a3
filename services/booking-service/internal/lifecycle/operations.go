package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/billing"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	CustomerID     string
	ServiceID      string
	EmployeeID     *string
	Start          time.Time
	DurationMin    *int
	IdempotencyKey string
}

// Create books a PENDING appointment. Slot collisions are not checked here.
func (m *Machine) Create(ctx context.Context, p auth.Principal, req CreateRequest) (model.Appointment, error) {
	if err := requireRole(p, auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleClient); err != nil {
		return model.Appointment{}, err
	}
	if req.Start.IsZero() {
		return model.Appointment{}, apperr.Validation("start time is invalid")
	}
	if req.DurationMin != nil && *req.DurationMin <= 0 {
		return model.Appointment{}, apperr.Validation("duration must be positive")
	}
	if req.ServiceID == "" {
		return model.Appointment{}, apperr.Validation("service_id is required")
	}
	if req.CustomerID == "" && p.Role == auth.RoleClient {
		cust, err := m.store.GetCustomerByUser(ctx, p.TenantID, p.UserID)
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, apperr.NotFound("no customer profile for this user")
		}
		if err != nil {
			return model.Appointment{}, m.fail("create appointment", "", err)
		}
		req.CustomerID = cust.ID
	}
	if req.CustomerID == "" {
		return model.Appointment{}, apperr.Validation("customer_id is required")
	}
	cfg, err := m.configs.Get(ctx, p.TenantID)
	if err != nil {
		return model.Appointment{}, m.fail("create appointment", "", err)
	}

	var out model.Appointment
	err = m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if req.IdempotencyKey != "" {
			prior, err := tx.ClaimIdempotencyKey(ctx, p.TenantID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != "" {
				appt, err := tx.GetAppointmentForUpdate(ctx, prior)
				if err != nil {
					return err
				}
				out = appt
				return nil
			}
		}

		cust, err := tx.GetCustomer(ctx, req.CustomerID)
		if errors.Is(err, model.ErrNotFound) {
			return apperr.NotFound("customer not found")
		}
		if err != nil {
			return err
		}
		if cust.TenantID != p.TenantID {
			return apperr.Authorization("customer belongs to another tenant")
		}
		if p.Role == auth.RoleClient && (cust.UserID == nil || *cust.UserID != p.UserID) {
			return apperr.Authorization("clients may only book for themselves")
		}
		svc, err := tx.GetService(ctx, req.ServiceID)
		if errors.Is(err, model.ErrNotFound) {
			return apperr.NotFound("service not found")
		}
		if err != nil {
			return err
		}
		if svc.TenantID != p.TenantID {
			return apperr.Authorization("service belongs to another tenant")
		}
		if req.EmployeeID != nil {
			emp, err := tx.GetEmployee(ctx, *req.EmployeeID)
			if errors.Is(err, model.ErrNotFound) {
				return apperr.NotFound("employee not found")
			}
			if err != nil {
				return err
			}
			if emp.TenantID != p.TenantID {
				return apperr.Authorization("employee belongs to another tenant")
			}
		}

		duration := svc.DurationMin
		price := svc.Price
		if req.DurationMin != nil {
			duration = *req.DurationMin
		}
		duration = cfg.FloorDuration(duration)
		if req.DurationMin != nil && svc.Hourly {
			price = svc.Price.Mul(decimal.NewFromInt(int64(duration))).Div(decimal.NewFromInt(60)).Round(2)
		}

		now := m.now()
		appt := model.Appointment{
			ID:          uuid.NewString(),
			TenantID:    p.TenantID,
			CustomerID:  cust.ID,
			ServiceID:   svc.ID,
			EmployeeID:  req.EmployeeID,
			StartTime:   req.Start,
			EndTime:     req.Start.Add(time.Duration(duration) * time.Minute),
			Status:      model.StatusPending,
			Price:       price,
			ProofImages: []string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.FinalizeIdempotencyKey(ctx, p.TenantID, req.IdempotencyKey, appt.ID); err != nil {
				return err
			}
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, m.fail("create appointment", "", err)
	}
	m.sched.ObserveTransition("create", string(model.StatusPending))
	return out, nil
}

// Cancel cancels an appointment at least CancellationWindow ahead of its start.
func (m *Machine) Cancel(ctx context.Context, p auth.Principal, id string) (model.Appointment, error) {
	if err := requireRole(p, auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleClient); err != nil {
		return model.Appointment{}, err
	}
	var out model.Appointment
	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := load(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if _, err := requireOwner(ctx, tx, p, appt); err != nil {
			return err
		}
		switch appt.Status {
		case model.StatusCancelled:
			return apperr.PolicyViolation("already cancelled")
		case model.StatusCompleted:
			return apperr.PolicyViolation("cannot cancel finished service")
		}
		if appt.StartTime.Sub(m.now()) < CancellationWindow {
			return apperr.PolicyViolation("appointments can only be cancelled at least 24 hours in advance")
		}
		if err := m.transition(ctx, tx, &appt, EventCancel); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, m.fail("cancel appointment", id, err)
	}
	return out, nil
}

// Reschedule moves an appointment to newStart, keeping its duration, and
// sends it back to PENDING for re-confirmation.
func (m *Machine) Reschedule(ctx context.Context, p auth.Principal, id string, newStart time.Time) (model.Appointment, error) {
	if err := requireRole(p, auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleClient); err != nil {
		return model.Appointment{}, err
	}
	if newStart.IsZero() {
		return model.Appointment{}, apperr.Validation("new start time is invalid")
	}
	var out model.Appointment
	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := load(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if _, err := requireOwner(ctx, tx, p, appt); err != nil {
			return err
		}
		switch appt.Status {
		case model.StatusCancelled, model.StatusCompleted, model.StatusInProgress, model.StatusEnRoute:
			return apperr.PolicyViolation("cannot reschedule an appointment that is " + string(appt.Status))
		}
		if !newStart.After(m.now()) {
			return apperr.PolicyViolation("new start time must be in the future")
		}
		duration := appt.Duration()
		appt.StartTime = newStart
		appt.EndTime = newStart.Add(duration)
		// The cleaner has to finish the new visit again.
		appt.CleanerConfirmationDate = nil
		if err := m.transition(ctx, tx, &appt, EventReschedule); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, m.fail("reschedule appointment", id, err)
	}
	return out, nil
}

// Advance applies a staff-driven forward transition to target.
func (m *Machine) Advance(ctx context.Context, p auth.Principal, id string, target model.Status) (model.Appointment, error) {
	if err := requireRole(p, auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleCleaner); err != nil {
		return model.Appointment{}, err
	}
	ev, ok := advanceEvents[target]
	if !ok {
		return model.Appointment{}, apperr.Validation("status " + string(target) + " cannot be set directly")
	}
	var out model.Appointment
	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := load(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if err := m.transition(ctx, tx, &appt, ev); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, m.fail("advance appointment", id, err)
	}
	return out, nil
}

// ClientConfirm records the client's sign-off and completes the appointment.
// One-time customers are invoiced in the same transaction.
func (m *Machine) ClientConfirm(ctx context.Context, p auth.Principal, id string) (model.Appointment, *model.Invoice, error) {
	if err := requireRole(p, auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleClient); err != nil {
		return model.Appointment{}, nil, err
	}
	var out model.Appointment
	var invoice *model.Invoice
	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := load(ctx, tx, p, id)
		if err != nil {
			return err
		}
		cust, err := requireOwner(ctx, tx, p, appt)
		if err != nil {
			return err
		}
		now := m.now()
		appt.ClientConfirmationDate = &now
		if err := m.transition(ctx, tx, &appt, EventClientConfirm); err != nil {
			return err
		}
		if cust.Frequency == model.FrequencyOneTime {
			inv, err := billing.Issue(ctx, tx, cust, []model.Appointment{appt}, now)
			if errors.Is(err, billing.ErrAlreadyBilled) {
				return apperr.PolicyViolation("appointment is already invoiced")
			}
			if err != nil {
				return err
			}
			appt.InvoiceID = &inv.ID
			invoice = &inv
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, nil, m.fail("confirm appointment", id, err)
	}
	if invoice != nil {
		m.billing.ObserveInvoice("one_time")
		m.logger.Info("invoice generated",
			"tenant_id", out.TenantID,
			"customer_id", out.CustomerID,
			"invoice_id", invoice.ID,
			"amount", invoice.Amount.StringFixed(2),
			"appointments", 1,
		)
	}
	return out, invoice, nil
}

// Finish is the cleaner's completion: it attaches proof images, appends
// notes and waits for the client's confirmation.
func (m *Machine) Finish(ctx context.Context, p auth.Principal, id string, proofImages []string, notes string) (model.Appointment, error) {
	if err := requireRole(p, auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleCleaner); err != nil {
		return model.Appointment{}, err
	}
	var out model.Appointment
	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := load(ctx, tx, p, id)
		if err != nil {
			return err
		}
		for _, img := range proofImages {
			if img != "" {
				appt.ProofImages = append(appt.ProofImages, img)
			}
		}
		appt.Notes = appendNotes(appt.Notes, notes)
		if err := m.transition(ctx, tx, &appt, EventFinish); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, m.fail("finish appointment", id, err)
	}
	return out, nil
}

// List returns the tenant's appointments starting in [from, to). Clients only see their own.
func (m *Machine) List(ctx context.Context, p auth.Principal, from, to time.Time, limit int) ([]model.Appointment, error) {
	if !to.After(from) {
		return nil, apperr.Validation("to must be after from")
	}
	f := ListFilter{TenantID: p.TenantID, From: from, To: to, Limit: limit}
	if p.Role == auth.RoleClient {
		cust, err := m.store.GetCustomerByUser(ctx, p.TenantID, p.UserID)
		if errors.Is(err, model.ErrNotFound) {
			return []model.Appointment{}, nil
		}
		if err != nil {
			return nil, m.fail("list appointments", "", err)
		}
		f.CustomerID = cust.ID
	}
	appts, err := m.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, m.fail("list appointments", "", err)
	}
	return appts, nil
}
