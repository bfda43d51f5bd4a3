package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cleanroute/cleanroute/libs/metrics"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/billing"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/memstore"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recurring(id string, day int) model.Customer {
	return model.Customer{ID: id, TenantID: "t1", Name: id, Frequency: model.FrequencyMonthly, BillingDay: day, Active: true}
}

func completed(id, customerID, price string, start time.Time) model.Appointment {
	confirmed := start.Add(3 * time.Hour)
	return model.Appointment{
		ID:                     id,
		TenantID:               "t1",
		CustomerID:             customerID,
		StartTime:              start,
		EndTime:                start.Add(2 * time.Hour),
		Status:                 model.StatusCompleted,
		Price:                  decimal.RequireFromString(price),
		ClientConfirmationDate: &confirmed,
	}
}

func countSeries(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			total := 0
			for _, m := range mf.GetMetric() {
				total += int(m.GetCounter().GetValue())
			}
			return total
		}
	}
	return 0
}

func TestRunDailyCycleBillsEligibleAppointments(t *testing.T) {
	st := memstore.New()
	st.PutCustomer(recurring("c1", 15))
	st.PutAppointment(completed("a1", "c1", "50", today.AddDate(0, 0, -10)))
	st.PutAppointment(completed("a2", "c1", "50", today.AddDate(0, 0, -3)))

	reg := prometheus.NewRegistry()
	bm := metrics.NewBillingMetrics(reg)
	agg := billing.NewAggregator(st.Billing(), quietLogger(), bm)

	sum, err := agg.RunDailyCycle(context.Background(), today, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.InvoicesGenerated)
	assert.Equal(t, 1, sum.CustomersScanned)

	invs := st.Invoices()
	require.Len(t, invs, 1)
	assert.Equal(t, 1, countSeries(t, reg, "cleanroute_billing_invoices_total"))
	assert.True(t, invs[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, model.InvoiceOpen, invs[0].Status)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), invs[0].DueDate)
	assert.ElementsMatch(t, []string{"a1", "a2"}, invs[0].AppointmentIDs)

	for _, id := range []string{"a1", "a2"} {
		a, _ := st.Appointment(id)
		require.NotNil(t, a.InvoiceID)
		assert.Equal(t, invs[0].ID, *a.InvoiceID)
	}

	// Same day again: everything is already linked.
	sum, err = agg.RunDailyCycle(context.Background(), today, "")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.InvoicesGenerated)
	assert.Equal(t, 1, sum.CustomersSkipped)
	assert.Len(t, st.Invoices(), 1)
}

func TestRunDailyCycleSkipsIneligible(t *testing.T) {
	st := memstore.New()
	st.PutCustomer(recurring("c1", 15))
	st.PutCustomer(recurring("c2", 16))
	oneTime := recurring("c3", 15)
	oneTime.Frequency = model.FrequencyOneTime
	st.PutCustomer(oneTime)

	unconfirmed := completed("a1", "c1", "40", today.AddDate(0, 0, -2))
	unconfirmed.ClientConfirmationDate = nil
	st.PutAppointment(unconfirmed)
	awaiting := completed("a2", "c1", "40", today.AddDate(0, 0, -1))
	awaiting.Status = model.StatusAwaitingConfirmation
	st.PutAppointment(awaiting)
	st.PutAppointment(completed("a3", "c2", "40", today.AddDate(0, 0, -1)))
	st.PutAppointment(completed("a4", "c3", "40", today.AddDate(0, 0, -1)))

	agg := billing.NewAggregator(st.Billing(), quietLogger(), nil)
	sum, err := agg.RunDailyCycle(context.Background(), today, "")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.InvoicesGenerated)
	assert.Equal(t, 1, sum.CustomersScanned)
	assert.Equal(t, 1, sum.CustomersSkipped)
	assert.Empty(t, st.Invoices())
}

func TestRunDailyCycleContinuesAfterFailure(t *testing.T) {
	st := memstore.New()
	st.PutCustomer(recurring("c1", 15))
	st.PutCustomer(recurring("c2", 15))
	st.PutAppointment(completed("a1", "c1", "25.50", today.AddDate(0, 0, -5)))
	st.PutAppointment(completed("a2", "c2", "30", today.AddDate(0, 0, -5)))
	st.FailInsertInvoice = map[string]error{"c1": errors.New("disk full")}

	reg := prometheus.NewRegistry()
	bm := metrics.NewBillingMetrics(reg)
	agg := billing.NewAggregator(st.Billing(), quietLogger(), bm)

	sum, err := agg.RunDailyCycle(context.Background(), today, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failures)
	assert.Equal(t, 1, sum.InvoicesGenerated)
	assert.Equal(t, 1, countSeries(t, reg, "cleanroute_billing_customer_failures_total"))

	invs := st.Invoices()
	require.Len(t, invs, 1)
	assert.Equal(t, "c2", invs[0].CustomerID)

	a1, _ := st.Appointment("a1")
	assert.Nil(t, a1.InvoiceID, "failed customer must stay unbilled")
}

type shortWriter struct {
	inserted int
}

func (w *shortWriter) InsertInvoice(context.Context, *model.Invoice) error {
	w.inserted++
	return nil
}

func (w *shortWriter) LinkAppointments(_ context.Context, _, _ string, ids []string) (int64, error) {
	return int64(len(ids) - 1), nil
}

func TestIssueDetectsConcurrentLink(t *testing.T) {
	w := &shortWriter{}
	appts := []model.Appointment{
		completed("a1", "c1", "10", today),
		completed("a2", "c1", "10", today),
	}
	_, err := billing.Issue(context.Background(), w, recurring("c1", 15), appts, today)
	require.ErrorIs(t, err, billing.ErrAlreadyBilled)
}

func TestIssueRejectsLinkedAppointment(t *testing.T) {
	a := completed("a1", "c1", "10", today)
	prior := "inv-0"
	a.InvoiceID = &prior
	w := &shortWriter{}
	_, err := billing.Issue(context.Background(), w, recurring("c1", 15), []model.Appointment{a}, today)
	require.ErrorIs(t, err, billing.ErrAlreadyBilled)
	assert.Zero(t, w.inserted)
}

func TestRunnerSkipsWhenDayAlreadyRan(t *testing.T) {
	st := memstore.New()
	st.PutCustomer(recurring("c1", 15))
	st.PutAppointment(completed("a1", "c1", "50", today.AddDate(0, 0, -1)))

	agg := billing.NewAggregator(st.Billing(), quietLogger(), nil)
	r := billing.NewRunner(agg, st, quietLogger(), nil, billing.RunnerConfig{
		Interval: time.Hour,
		Now:      func() time.Time { return today },
	})

	ctx := context.Background()
	_, ran, err := r.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	require.Len(t, st.Invoices(), 1)

	st.PutAppointment(completed("a2", "c1", "50", today.AddDate(0, 0, -1)))
	_, ran, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	require.Len(t, st.Invoices(), 1, "ticker must not bill the same day twice")

	sum, ran, err := r.RunNow(ctx, today, "manual", "")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, sum.InvoicesGenerated)
}

func TestRunnerLockHeld(t *testing.T) {
	st := memstore.New()
	st.LockHeld = true
	st.PutCustomer(recurring("c1", 15))
	st.PutAppointment(completed("a1", "c1", "50", today.AddDate(0, 0, -1)))

	agg := billing.NewAggregator(st.Billing(), quietLogger(), nil)
	r := billing.NewRunner(agg, st, quietLogger(), nil, billing.RunnerConfig{})
	_, ran, err := r.RunNow(context.Background(), today, "manual", "")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, st.Invoices())
}
