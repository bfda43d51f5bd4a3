package storage

import (
	"context"
	"time"

	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/billing"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

func (t *Tx) InsertInvoice(ctx context.Context, inv *model.Invoice) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO invoices (id, tenant_id, customer_id, amount, status, due_date)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING created_at
	`, inv.ID, inv.TenantID, inv.CustomerID, inv.Amount.String(), string(inv.Status), inv.DueDate).Scan(&inv.CreatedAt)
}

// LinkAppointments only touches rows that are still unbilled, so a concurrent
// run that linked first shows up as a short count.
func (t *Tx) LinkAppointments(ctx context.Context, tenantID, invoiceID string, appointmentIDs []string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET invoice_id = $2, updated_at = now()
		WHERE tenant_id = $1
			AND id = ANY($3::uuid[])
			AND invoice_id IS NULL
	`, tenantID, invoiceID, appointmentIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) LockEligible(ctx context.Context, tenantID, customerID string) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND customer_id = $2
			AND status = 'COMPLETED'
			AND invoice_id IS NULL
			AND client_confirmation_date IS NOT NULL
		ORDER BY start_time ASC
		FOR UPDATE
	`, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Billing exposes the repository as a billing.Store.
func (r *Repository) Billing() billing.Store { return billingStore{r} }

type billingStore struct{ r *Repository }

func (b billingStore) DueCustomers(ctx context.Context, tenantID string, day int) ([]model.Customer, error) {
	rows, err := b.r.conn.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE active
			AND frequency <> 'ONE_TIME'
			AND billing_day = $1
			AND ($2 = '' OR tenant_id::text = $2)
		ORDER BY tenant_id, id
	`, day, tenantID)
	if err != nil {
		return nil, err
	}
	return collectCustomers(rows)
}

func (b billingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	return db.WithTx(ctx, b.r.conn, func(tx pgx.Tx) error {
		return fn(ctx, &Tx{tx: tx, outbox: b.r.outbox})
	})
}

// billingLockKey is the advisory lock id guarding the daily billing cycle.
const billingLockKey int64 = 0x636c6e62696c6c

// WithRunLock holds a transaction-scoped advisory lock while fn runs.
// The lock tx keeps one pool connection for the whole cycle and every
// customer is billed in a second tx, so the pool needs at least two
// connections or the cycle blocks on itself.
func (r *Repository) WithRunLock(ctx context.Context, fn func(ctx context.Context, log billing.RunLog) error) (bool, error) {
	held := false
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		ok, err := db.TryAdvisoryXactLock(ctx, tx, billingLockKey)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		held = true
		return fn(ctx, runLog{tx: tx})
	})
	return held, err
}

type runLog struct{ tx pgx.Tx }

func (l runLog) HasRun(ctx context.Context, day time.Time) (bool, error) {
	var exists bool
	err := l.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM billing_runs WHERE run_date = $1::date)
	`, day.Format(time.DateOnly)).Scan(&exists)
	return exists, err
}

func (l runLog) RecordRun(ctx context.Context, day time.Time, trigger string, sum billing.Summary) error {
	_, err := l.tx.Exec(ctx, `
		INSERT INTO billing_runs (run_date, trigger, invoices, customers_scanned, customers_skipped, failures)
		VALUES ($1::date, $2, $3, $4, $5, $6)
		ON CONFLICT (run_date) DO UPDATE
		SET trigger = EXCLUDED.trigger,
			invoices = billing_runs.invoices + EXCLUDED.invoices,
			customers_scanned = EXCLUDED.customers_scanned,
			customers_skipped = EXCLUDED.customers_skipped,
			failures = EXCLUDED.failures,
			finished_at = now()
	`, day.Format(time.DateOnly), trigger, sum.InvoicesGenerated, sum.CustomersScanned, sum.CustomersSkipped, sum.Failures)
	return err
}
