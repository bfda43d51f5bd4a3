package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cleanroute/cleanroute/services/billing-service/internal/invoices"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/payments"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invoiceCols = []string{
	"id", "tenant_id", "customer_id", "amount", "status", "due_date",
	"payment_link_id", "payment_url", "paid_at", "created_at", "appointment_ids",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestListInvoicesScansRows(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	due := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM invoices i").WithArgs("t1", "c1", "", 100).
		WillReturnRows(pgxmock.NewRows(invoiceCols).
			AddRow("inv-1", "t1", "c1", "120.50", "OPEN", due, "", "", (*time.Time)(nil), due, []string{"a1", "a2"}))

	list, err := repo.ListInvoices(context.Background(), invoices.ListFilter{TenantID: "t1", CustomerID: "c1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "120.5", list[0].Amount.String())
	assert.Equal(t, invoices.StatusOpen, list[0].Status)
	assert.Equal(t, []string{"a1", "a2"}, list[0].AppointmentIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInvoiceMapsNoRows(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("FROM invoices i").WithArgs("t1", "missing").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetInvoice(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, invoices.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPaymentLinkOnlyOpenInvoices(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectExec("UPDATE invoices").WithArgs("t1", "inv-1", "cs_1", "https://pay").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetPaymentLink(context.Background(), "t1", "inv-1", payments.Link{ID: "cs_1", CheckoutURL: "https://pay"})
	assert.ErrorIs(t, err, invoices.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateProviderEventRollsBack(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO provider_events").WithArgs("stripe", "evt_1", "checkout.session.completed", `{}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx invoices.Tx) error {
		return tx.InsertProviderEvent(ctx, invoices.ProviderEvent{Provider: "stripe", EventID: "evt_1", EventType: "checkout.session.completed", Payload: []byte(`{}`)})
	})
	assert.ErrorIs(t, err, invoices.ErrDuplicateEvent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidWithOutboxEvent(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	at := time.Date(2025, 3, 16, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE invoices SET status = 'PAID'").WithArgs("inv-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("invoice", "inv-1", outbox.TopicInvoicePaid, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx invoices.Tx) error {
		if err := tx.MarkPaid(ctx, "inv-1", at); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, outbox.InvoicePaid(outbox.InvoicePaidPayload{InvoiceID: "inv-1", TenantID: "t1", PaidAt: at}))
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidRejectsSettledInvoice(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	at := time.Date(2025, 3, 16, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE invoices SET status = 'PAID'").WithArgs("inv-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx invoices.Tx) error {
		return tx.MarkPaid(ctx, "inv-1", at)
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithReconcileLock(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("pg_try_advisory_xact_lock").WithArgs(reconcileLockKey).
		WillReturnRows(pgxmock.NewRows([]string{"ok"}).AddRow(false))
	mock.ExpectCommit()

	called := false
	held, err := repo.WithReconcileLock(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, held)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}
