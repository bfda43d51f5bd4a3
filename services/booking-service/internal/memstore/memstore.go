// Package memstore is an in-memory Store used by unit tests of the lifecycle
// and billing packages. Transactions copy the state and restore it when fn
// fails, so rollback behaves like the database.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cleanroute/cleanroute/services/booking-service/internal/billing"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/lifecycle"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/outbox"
)

type Store struct {
	mu    sync.Mutex
	state state

	// FailInsertInvoice makes InsertInvoice fail for the listed customer ids.
	FailInsertInvoice map[string]error
	// LockHeld simulates another replica holding the billing lock.
	LockHeld bool
}

type state struct {
	Customers    map[string]model.Customer
	Services     map[string]model.Service
	Employees    map[string]model.Employee
	Appointments map[string]model.Appointment
	Invoices     map[string]model.Invoice
	Events       []outbox.Event
	Idempotency  map[string]string
	Runs         map[string]string
}

func New() *Store {
	return &Store{state: state{
		Customers:    map[string]model.Customer{},
		Services:     map[string]model.Service{},
		Employees:    map[string]model.Employee{},
		Appointments: map[string]model.Appointment{},
		Invoices:     map[string]model.Invoice{},
		Idempotency:  map[string]string{},
		Runs:         map[string]string{},
	}}
}

func (s state) clone() state {
	c := state{
		Customers:    make(map[string]model.Customer, len(s.Customers)),
		Services:     make(map[string]model.Service, len(s.Services)),
		Employees:    make(map[string]model.Employee, len(s.Employees)),
		Appointments: make(map[string]model.Appointment, len(s.Appointments)),
		Invoices:     make(map[string]model.Invoice, len(s.Invoices)),
		Events:       append([]outbox.Event(nil), s.Events...),
		Idempotency:  make(map[string]string, len(s.Idempotency)),
		Runs:         make(map[string]string, len(s.Runs)),
	}
	for k, v := range s.Customers {
		c.Customers[k] = v
	}
	for k, v := range s.Services {
		c.Services[k] = v
	}
	for k, v := range s.Employees {
		c.Employees[k] = v
	}
	for k, v := range s.Appointments {
		v.ProofImages = append([]string(nil), v.ProofImages...)
		c.Appointments[k] = v
	}
	for k, v := range s.Invoices {
		c.Invoices[k] = v
	}
	for k, v := range s.Idempotency {
		c.Idempotency[k] = v
	}
	for k, v := range s.Runs {
		c.Runs[k] = v
	}
	return c
}

func (s *Store) PutCustomer(c model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Customers[c.ID] = c
}

func (s *Store) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Services[svc.ID] = svc
}

func (s *Store) PutEmployee(e model.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Employees[e.ID] = e
}

func (s *Store) PutAppointment(a model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Appointments[a.ID] = a
}

func (s *Store) Appointment(id string) (model.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.Appointments[id]
	return a, ok
}

func (s *Store) Invoices() []model.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Invoice, 0, len(s.state.Invoices))
	for _, inv := range s.state.Invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out
}

func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.state.Events...)
}

func (s *Store) AppointmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Appointments)
}

// tx operates on a private copy of the state.
type tx struct {
	s  *Store
	st state
}

func (s *Store) begin() *tx {
	return &tx{s: s, st: s.state.clone()}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.begin()
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.state = t.st
	return nil
}

// Billing adapts the store to billing.Store.
func (s *Store) Billing() billing.Store { return billingStore{s} }

type billingStore struct{ s *Store }

func (b billingStore) DueCustomers(ctx context.Context, tenantID string, day int) ([]model.Customer, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []model.Customer
	for _, c := range b.s.state.Customers {
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		if c.Active && c.Frequency.Recurring() && c.BillingDay == day {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b billingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	t := b.s.begin()
	if err := fn(ctx, t); err != nil {
		return err
	}
	b.s.state = t.st
	return nil
}

func (s *Store) WithRunLock(ctx context.Context, fn func(ctx context.Context, log billing.RunLog) error) (bool, error) {
	if s.LockHeld {
		return false, nil
	}
	return true, fn(ctx, runLog{s})
}

type runLog struct{ s *Store }

func (r runLog) HasRun(_ context.Context, day time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.state.Runs[day.Format(time.DateOnly)]
	return ok, nil
}

func (r runLog) RecordRun(_ context.Context, day time.Time, trigger string, _ billing.Summary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.state.Runs[day.Format(time.DateOnly)] = trigger
	return nil
}

func (s *Store) ListAppointments(_ context.Context, f lifecycle.ListFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.state.Appointments {
		if a.TenantID != f.TenantID {
			continue
		}
		if f.CustomerID != "" && a.CustomerID != f.CustomerID {
			continue
		}
		if a.StartTime.Before(f.From) || !a.StartTime.Before(f.To) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetCustomerByUser(_ context.Context, tenantID, userID string) (model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.Customers {
		if c.TenantID == tenantID && c.UserID != nil && *c.UserID == userID {
			return c, nil
		}
	}
	return model.Customer{}, model.ErrNotFound
}

func (t *tx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.st.Appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	a.ProofImages = append([]string(nil), a.ProofImages...)
	return a, nil
}

func (t *tx) GetCustomer(_ context.Context, id string) (model.Customer, error) {
	c, ok := t.st.Customers[id]
	if !ok {
		return model.Customer{}, model.ErrNotFound
	}
	return c, nil
}

func (t *tx) GetService(_ context.Context, id string) (model.Service, error) {
	svc, ok := t.st.Services[id]
	if !ok {
		return model.Service{}, model.ErrNotFound
	}
	return svc, nil
}

func (t *tx) GetEmployee(_ context.Context, id string) (model.Employee, error) {
	e, ok := t.st.Employees[id]
	if !ok {
		return model.Employee{}, model.ErrNotFound
	}
	return e, nil
}

func (t *tx) InsertAppointment(_ context.Context, a *model.Appointment) error {
	if _, ok := t.st.Appointments[a.ID]; ok {
		return errors.New("duplicate appointment id")
	}
	t.st.Appointments[a.ID] = *a
	return nil
}

func (t *tx) UpdateAppointment(_ context.Context, a model.Appointment) error {
	cur, ok := t.st.Appointments[a.ID]
	if !ok {
		return model.ErrNotFound
	}
	// invoice_id is owned by LinkAppointments.
	a.InvoiceID = cur.InvoiceID
	t.st.Appointments[a.ID] = a
	return nil
}

func (t *tx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.st.Events = append(t.st.Events, evt)
	return nil
}

func (t *tx) ClaimIdempotencyKey(_ context.Context, tenantID, key string) (string, error) {
	k := tenantID + "/" + key
	id, ok := t.st.Idempotency[k]
	if !ok {
		t.st.Idempotency[k] = ""
	}
	return id, nil
}

func (t *tx) FinalizeIdempotencyKey(_ context.Context, tenantID, key, appointmentID string) error {
	t.st.Idempotency[tenantID+"/"+key] = appointmentID
	return nil
}

func (t *tx) InsertInvoice(_ context.Context, inv *model.Invoice) error {
	if err, ok := t.s.FailInsertInvoice[inv.CustomerID]; ok {
		return err
	}
	inv.CreatedAt = time.Now()
	t.st.Invoices[inv.ID] = *inv
	return nil
}

func (t *tx) LinkAppointments(_ context.Context, tenantID, invoiceID string, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		a, ok := t.st.Appointments[id]
		if !ok || a.TenantID != tenantID || a.InvoiceID != nil {
			continue
		}
		inv := invoiceID
		a.InvoiceID = &inv
		t.st.Appointments[id] = a
		n++
	}
	return n, nil
}

func (t *tx) LockEligible(_ context.Context, tenantID, customerID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range t.st.Appointments {
		if a.TenantID == tenantID && a.CustomerID == customerID &&
			a.Status == model.StatusCompleted && a.InvoiceID == nil && a.ClientConfirmationDate != nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}
