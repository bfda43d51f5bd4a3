// Package invoices exposes invoices to tenants and settles them through the
// payment gateway.
package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/cleanroute/cleanroute/services/billing-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/payments"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEvent = errors.New("duplicate provider event")
)

type Status string

const (
	StatusOpen Status = "OPEN"
	StatusPaid Status = "PAID"
)

type Invoice struct {
	ID             string
	TenantID       string
	CustomerID     string
	Amount         decimal.Decimal
	Status         Status
	DueDate        time.Time
	PaymentLinkID  string
	PaymentURL     string
	PaidAt         *time.Time
	AppointmentIDs []string
	CreatedAt      time.Time
}

type ListFilter struct {
	TenantID   string
	CustomerID string
	Status     Status
	Limit      int
}

// ProviderEvent is a raw gateway delivery, stored once per (provider, id).
type ProviderEvent struct {
	Provider  string
	EventID   string
	EventType string
	Payload   []byte
}

type AuditEvent struct {
	EventType string
	ActorType string
	ActorID   string
	TenantID  string
	Metadata  map[string]any
}

type Store interface {
	ListInvoices(ctx context.Context, f ListFilter) ([]Invoice, error)
	GetInvoice(ctx context.Context, tenantID, id string) (Invoice, error)
	CustomerIDByUser(ctx context.Context, tenantID, userID string) (string, error)
	// GatewayKey returns the tenant's payment gateway secret, or "" when unset.
	GatewayKey(ctx context.Context, tenantID string) (string, error)
	SetPaymentLink(ctx context.Context, tenantID, id string, link payments.Link) error
	// ListUnpaidLinked returns OPEN invoices that already carry a payment link.
	ListUnpaidLinked(ctx context.Context, limit int) ([]Invoice, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	// InsertProviderEvent returns ErrDuplicateEvent for a replayed delivery.
	InsertProviderEvent(ctx context.Context, evt ProviderEvent) error
	InsertAudit(ctx context.Context, evt AuditEvent) error
	GetInvoiceForUpdate(ctx context.Context, id string) (Invoice, error)
	MarkPaid(ctx context.Context, id string, at time.Time) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
}
