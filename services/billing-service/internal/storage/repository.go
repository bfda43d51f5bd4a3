package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/invoices"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/payments"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const invoiceColumns = `
	i.id::text, i.tenant_id::text, i.customer_id::text, i.amount::text, i.status, i.due_date,
	i.payment_link_id, i.payment_url, i.paid_at, i.created_at,
	COALESCE((SELECT array_agg(a.id::text ORDER BY a.start_time) FROM appointments a WHERE a.invoice_id = i.id), '{}')`

// reconcileLockKey keeps concurrent reconcilers from polling the same invoices.
const reconcileLockKey int64 = 0x636c6e7265636e

type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) ListInvoices(ctx context.Context, f invoices.ListFilter) ([]invoices.Invoice, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.tenant_id = $1
		  AND ($2 = '' OR i.customer_id::text = $2)
		  AND ($3 = '' OR i.status = $3)
		ORDER BY i.created_at DESC
		LIMIT $4
	`, f.TenantID, f.CustomerID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *Repository) GetInvoice(ctx context.Context, tenantID, id string) (invoices.Invoice, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.tenant_id = $1 AND i.id = $2
	`, tenantID, id)
	inv, err := scanInvoice(row)
	return inv, notFound(err)
}

func (r *Repository) CustomerIDByUser(ctx context.Context, tenantID, userID string) (string, error) {
	var id string
	err := r.conn.QueryRow(ctx, `
		SELECT id::text FROM customers WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(&id)
	return id, notFound(err)
}

func (r *Repository) GatewayKey(ctx context.Context, tenantID string) (string, error) {
	var key string
	err := r.conn.QueryRow(ctx, `SELECT stripe_secret_key FROM tenants WHERE id = $1`, tenantID).Scan(&key)
	return key, notFound(err)
}

func (r *Repository) SetPaymentLink(ctx context.Context, tenantID, id string, link payments.Link) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE invoices
		SET payment_link_id = $3, payment_url = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'OPEN'
	`, tenantID, id, link.ID, link.CheckoutURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return invoices.ErrNotFound
	}
	return nil
}

func (r *Repository) ListUnpaidLinked(ctx context.Context, limit int) ([]invoices.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.status = 'OPEN' AND i.payment_link_id <> ''
		ORDER BY i.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx invoices.Tx) error) error {
	return db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		return fn(ctx, &Tx{tx: tx})
	})
}

// WithReconcileLock runs fn while holding a transaction-scoped advisory
// lock. ok is false when another instance holds it.
func (r *Repository) WithReconcileLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	ok := false
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		locked, err := db.TryAdvisoryXactLock(ctx, tx, reconcileLockKey)
		if err != nil || !locked {
			return err
		}
		ok = true
		return fn(ctx)
	})
	return ok, err
}

type Tx struct {
	tx pgx.Tx
}

func (t *Tx) InsertProviderEvent(ctx context.Context, evt invoices.ProviderEvent) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.EventID, evt.EventType, string(evt.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return invoices.ErrDuplicateEvent
	}
	return nil
}

func (t *Tx) InsertAudit(ctx context.Context, evt invoices.AuditEvent) error {
	metadata := evt.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO billing_audit_events (event_type, actor_type, actor_id, tenant_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, evt.ActorType, evt.ActorID, evt.TenantID, metadata)
	return err
}

func (t *Tx) GetInvoiceForUpdate(ctx context.Context, id string) (invoices.Invoice, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.id = $1
		FOR UPDATE OF i
	`, id)
	inv, err := scanInvoice(row)
	return inv, notFound(err)
}

func (t *Tx) MarkPaid(ctx context.Context, id string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices SET status = 'PAID', paid_at = $2
		WHERE id = $1 AND status = 'OPEN'
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s is not open", id)
	}
	return nil
}

func (t *Tx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return outbox.Insert(ctx, t.tx, evt)
}

func scanInvoice(row pgx.Row) (invoices.Invoice, error) {
	var inv invoices.Invoice
	var amount, status string
	if err := row.Scan(&inv.ID, &inv.TenantID, &inv.CustomerID, &amount, &status, &inv.DueDate,
		&inv.PaymentLinkID, &inv.PaymentURL, &inv.PaidAt, &inv.CreatedAt, &inv.AppointmentIDs); err != nil {
		return invoices.Invoice{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return invoices.Invoice{}, fmt.Errorf("invoice %s amount: %w", inv.ID, err)
	}
	inv.Amount = d
	inv.Status = invoices.Status(status)
	return inv, nil
}

func collectInvoices(rows pgx.Rows) ([]invoices.Invoice, error) {
	defer rows.Close()
	var out []invoices.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return invoices.ErrNotFound
	}
	return err
}
