// Package memstore is an in-memory invoices.Store for tests.
package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/cleanroute/cleanroute/services/billing-service/internal/invoices"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/payments"
)

type state struct {
	invoices map[string]invoices.Invoice
	seen     map[string]bool
	audits   []invoices.AuditEvent
	events   []outbox.Event
}

func (s state) clone() state {
	return state{
		invoices: maps.Clone(s.invoices),
		seen:     maps.Clone(s.seen),
		audits:   append([]invoices.AuditEvent(nil), s.audits...),
		events:   append([]outbox.Event(nil), s.events...),
	}
}

type Store struct {
	mu        sync.Mutex
	state     state
	customers map[string]string
	keys      map[string]string

	// FailEvents makes InsertEvent fail, rolling the transaction back.
	FailEvents bool
	// Locked simulates another instance holding the reconcile lock.
	Locked bool
}

func New() *Store {
	return &Store{
		state: state{
			invoices: map[string]invoices.Invoice{},
			seen:     map[string]bool{},
		},
		customers: map[string]string{},
		keys:      map[string]string{},
	}
}

func (s *Store) PutInvoice(inv invoices.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.invoices[inv.ID] = inv
}

func (s *Store) PutCustomerUser(tenantID, userID, customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[tenantID+"/"+userID] = customerID
}

func (s *Store) PutGatewayKey(tenantID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[tenantID] = key
}

func (s *Store) Invoice(id string) invoices.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.invoices[id]
}

func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.state.events...)
}

func (s *Store) Audits() []invoices.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invoices.AuditEvent(nil), s.state.audits...)
}

func (s *Store) ListInvoices(_ context.Context, f invoices.ListFilter) ([]invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoices.Invoice
	for _, inv := range s.state.invoices {
		if inv.TenantID != f.TenantID {
			continue
		}
		if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetInvoice(_ context.Context, tenantID, id string) (invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.state.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	return inv, nil
}

func (s *Store) CustomerIDByUser(_ context.Context, tenantID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.customers[tenantID+"/"+userID]
	if !ok {
		return "", invoices.ErrNotFound
	}
	return id, nil
}

func (s *Store) GatewayKey(_ context.Context, tenantID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[tenantID], nil
}

func (s *Store) SetPaymentLink(_ context.Context, tenantID, id string, link payments.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.state.invoices[id]
	if !ok || inv.TenantID != tenantID || inv.Status != invoices.StatusOpen {
		return invoices.ErrNotFound
	}
	inv.PaymentLinkID = link.ID
	inv.PaymentURL = link.CheckoutURL
	s.state.invoices[id] = inv
	return nil
}

func (s *Store) ListUnpaidLinked(_ context.Context, limit int) ([]invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoices.Invoice
	for _, inv := range s.state.invoices {
		if inv.Status == invoices.StatusOpen && inv.PaymentLinkID != "" {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InTx runs fn against a copy of the state and keeps it only on success.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx invoices.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{store: s, st: s.state.clone()}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.state = t.st
	return nil
}

func (s *Store) WithReconcileLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	if s.Locked {
		return false, nil
	}
	return true, fn(ctx)
}

type tx struct {
	store *Store
	st    state
}

func (t *tx) InsertProviderEvent(_ context.Context, evt invoices.ProviderEvent) error {
	key := evt.Provider + "/" + evt.EventID
	if t.st.seen[key] {
		return invoices.ErrDuplicateEvent
	}
	t.st.seen[key] = true
	return nil
}

func (t *tx) InsertAudit(_ context.Context, evt invoices.AuditEvent) error {
	t.st.audits = append(t.st.audits, evt)
	return nil
}

func (t *tx) GetInvoiceForUpdate(_ context.Context, id string) (invoices.Invoice, error) {
	inv, ok := t.st.invoices[id]
	if !ok {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	return inv, nil
}

func (t *tx) MarkPaid(_ context.Context, id string, at time.Time) error {
	inv, ok := t.st.invoices[id]
	if !ok {
		return invoices.ErrNotFound
	}
	inv.Status = invoices.StatusPaid
	inv.PaidAt = &at
	t.st.invoices[id] = inv
	return nil
}

func (t *tx) InsertEvent(_ context.Context, evt outbox.Event) error {
	if t.store.FailEvents {
		return errFailed
	}
	t.st.events = append(t.st.events, evt)
	return nil
}

type failure string

func (f failure) Error() string { return string(f) }

const errFailed failure = "memstore: injected failure"
