package lifecycle_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/lifecycle"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/memstore"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/tenantconfig"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type staticConfig struct{ cfg tenantconfig.Config }

func (s staticConfig) Get(_ context.Context, tenantID string) (tenantconfig.Config, error) {
	c := s.cfg
	c.TenantID = tenantID
	return c, nil
}

var (
	admin   = auth.Principal{UserID: "u-admin", TenantID: "t1", Role: auth.RoleAdmin}
	cleaner = auth.Principal{UserID: "u-cleaner", TenantID: "t1", Role: auth.RoleCleaner}
	client  = auth.Principal{UserID: "u-client", TenantID: "t1", Role: auth.RoleClient}
	other   = auth.Principal{UserID: "u-other", TenantID: "t1", Role: auth.RoleClient}
)

func newMachine(t *testing.T, minDuration int) (*lifecycle.Machine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	userID := client.UserID
	otherID := other.UserID
	st.PutCustomer(model.Customer{ID: "c1", TenantID: "t1", UserID: &userID, Frequency: model.FrequencyWeekly, BillingDay: 1, Active: true})
	st.PutCustomer(model.Customer{ID: "c2", TenantID: "t1", UserID: &otherID, Frequency: model.FrequencyOneTime, Active: true})
	st.PutCustomer(model.Customer{ID: "cx", TenantID: "t2", Frequency: model.FrequencyWeekly, Active: true})
	st.PutService(model.Service{ID: "s-flat", TenantID: "t1", DurationMin: 120, Price: decimal.RequireFromString("80")})
	st.PutService(model.Service{ID: "s-hourly", TenantID: "t1", DurationMin: 60, Price: decimal.RequireFromString("30"), Hourly: true})

	cfg := tenantconfig.Default("t1")
	cfg.MinDurationMin = minDuration
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := lifecycle.NewMachine(st, staticConfig{cfg}, logger, lifecycle.WithClock(func() time.Time { return now }))
	return m, st
}

func intp(v int) *int { return &v }

func seed(st *memstore.Store, id, customerID string, status model.Status, start time.Time) {
	st.PutAppointment(model.Appointment{
		ID:          id,
		TenantID:    "t1",
		CustomerID:  customerID,
		ServiceID:   "s-flat",
		StartTime:   start,
		EndTime:     start.Add(2 * time.Hour),
		Status:      status,
		Price:       decimal.RequireFromString("80"),
		ProofImages: []string{},
	})
}

func kind(err error) apperr.Kind { return apperr.KindOf(err) }

func TestCreateChecksEmployee(t *testing.T) {
	m, st := newMachine(t, 0)
	st.PutEmployee(model.Employee{ID: "e1", TenantID: "t1", Name: "Ana"})
	st.PutEmployee(model.Employee{ID: "ex", TenantID: "t2", Name: "Bo"})
	start := now.Add(48 * time.Hour)
	ctx := context.Background()

	foreign := "ex"
	_, err := m.Create(ctx, admin, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat", EmployeeID: &foreign, Start: start})
	assert.Equal(t, apperr.KindAuthorization, kind(err))

	missing := "e9"
	_, err = m.Create(ctx, admin, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat", EmployeeID: &missing, Start: start})
	assert.Equal(t, apperr.KindNotFound, kind(err))
	assert.Zero(t, st.AppointmentCount())

	own := "e1"
	appt, err := m.Create(ctx, admin, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat", EmployeeID: &own, Start: start})
	require.NoError(t, err)
	require.NotNil(t, appt.EmployeeID)
	assert.Equal(t, "e1", *appt.EmployeeID)
}

func TestCreateUsesServiceDefaults(t *testing.T) {
	m, _ := newMachine(t, 0)
	start := now.Add(48 * time.Hour)
	appt, err := m.Create(context.Background(), admin, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat", Start: start})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.Equal(t, start.Add(120*time.Minute), appt.EndTime)
	assert.True(t, appt.Price.Equal(decimal.NewFromInt(80)))
}

func TestCreateHourlyCustomDuration(t *testing.T) {
	m, _ := newMachine(t, 0)
	appt, err := m.Create(context.Background(), admin, lifecycle.CreateRequest{
		CustomerID: "c1", ServiceID: "s-hourly", Start: now.Add(time.Hour), DurationMin: intp(90),
	})
	require.NoError(t, err)
	assert.Equal(t, "45", appt.Price.String())
	assert.Equal(t, 90*time.Minute, appt.Duration())
}

func TestCreateFloorsDuration(t *testing.T) {
	m, _ := newMachine(t, 180)
	appt, err := m.Create(context.Background(), admin, lifecycle.CreateRequest{
		CustomerID: "c1", ServiceID: "s-hourly", Start: now.Add(time.Hour), DurationMin: intp(60),
	})
	require.NoError(t, err)
	assert.Equal(t, 180*time.Minute, appt.Duration())
	assert.Equal(t, "90", appt.Price.String())

	flat, err := m.Create(context.Background(), admin, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat", Start: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 180*time.Minute, flat.Duration())
	assert.Equal(t, "80", flat.Price.String())
}

func TestCreateValidation(t *testing.T) {
	m, st := newMachine(t, 0)
	ctx := context.Background()

	_, err := m.Create(ctx, admin, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat"})
	assert.Equal(t, apperr.KindValidation, kind(err))

	_, err = m.Create(ctx, admin, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "nope", Start: now})
	assert.Equal(t, apperr.KindNotFound, kind(err))

	_, err = m.Create(ctx, admin, lifecycle.CreateRequest{CustomerID: "cx", ServiceID: "s-flat", Start: now})
	assert.Equal(t, apperr.KindAuthorization, kind(err))

	_, err = m.Create(ctx, client, lifecycle.CreateRequest{CustomerID: "c2", ServiceID: "s-flat", Start: now})
	assert.Equal(t, apperr.KindAuthorization, kind(err))

	_, err = m.Create(ctx, cleaner, lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat", Start: now})
	assert.Equal(t, apperr.KindAuthorization, kind(err))

	assert.Zero(t, st.AppointmentCount())
}

func TestCreateClientResolvesOwnCustomer(t *testing.T) {
	m, _ := newMachine(t, 0)
	appt, err := m.Create(context.Background(), client, lifecycle.CreateRequest{ServiceID: "s-flat", Start: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "c1", appt.CustomerID)
}

func TestCreateIdempotencyKeyReplays(t *testing.T) {
	m, st := newMachine(t, 0)
	req := lifecycle.CreateRequest{CustomerID: "c1", ServiceID: "s-flat", Start: now.Add(time.Hour), IdempotencyKey: "k1"}
	first, err := m.Create(context.Background(), admin, req)
	require.NoError(t, err)
	second, err := m.Create(context.Background(), admin, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, st.AppointmentCount())
}

func TestCancelWindow(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a-soon", "c1", model.StatusConfirmed, now.Add(23*time.Hour))
	seed(st, "a-later", "c1", model.StatusConfirmed, now.Add(25*time.Hour))

	_, err := m.Cancel(context.Background(), client, "a-soon")
	assert.Equal(t, apperr.KindPolicyViolation, kind(err))
	soon, _ := st.Appointment("a-soon")
	assert.Equal(t, model.StatusConfirmed, soon.Status)

	appt, err := m.Cancel(context.Background(), client, "a-later")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, appt.Status)

	_, err = m.Cancel(context.Background(), client, "a-later")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already cancelled")
}

func TestCancelExactlyAtWindowEdge(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a-edge", "c1", model.StatusConfirmed, now.Add(lifecycle.CancellationWindow))

	appt, err := m.Cancel(context.Background(), client, "a-edge")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, appt.Status)
}

func TestCancelRules(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a-done", "c1", model.StatusCompleted, now.Add(72*time.Hour))
	seed(st, "a-theirs", "c2", model.StatusPending, now.Add(72*time.Hour))
	seed(st, "a-mine", "c1", model.StatusPending, now.Add(72*time.Hour))

	_, err := m.Cancel(context.Background(), admin, "a-done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot cancel finished service")

	_, err = m.Cancel(context.Background(), client, "a-theirs")
	assert.Equal(t, apperr.KindAuthorization, kind(err))

	_, err = m.Cancel(context.Background(), auth.Principal{UserID: "x", TenantID: "t2", Role: auth.RoleAdmin}, "a-mine")
	assert.Equal(t, apperr.KindAuthorization, kind(err))

	_, err = m.Cancel(context.Background(), admin, "missing")
	assert.Equal(t, apperr.KindNotFound, kind(err))
}

func TestRescheduleKeepsDuration(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusConfirmed, now.Add(48*time.Hour))
	newStart := now.Add(96 * time.Hour)

	appt, err := m.Reschedule(context.Background(), client, "a1", newStart)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.Equal(t, newStart, appt.StartTime)
	assert.Equal(t, 2*time.Hour, appt.Duration())

	_, err = m.Reschedule(context.Background(), client, "a1", now.Add(-time.Hour))
	assert.Equal(t, apperr.KindPolicyViolation, kind(err))
}

func TestRescheduleToNowIsRejected(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusConfirmed, now.Add(48*time.Hour))

	_, err := m.Reschedule(context.Background(), client, "a1", now)
	assert.Equal(t, apperr.KindPolicyViolation, kind(err))
	a, _ := st.Appointment("a1")
	assert.Equal(t, now.Add(48*time.Hour), a.StartTime)
	assert.Equal(t, model.StatusConfirmed, a.Status)
}

func TestRescheduleAwaitingConfirmationResetsToPending(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusPending, now.Add(2*time.Hour))
	ctx := context.Background()
	for _, target := range []model.Status{model.StatusConfirmed, model.StatusEnRoute, model.StatusInProgress, model.StatusAwaitingConfirmation} {
		_, err := m.Advance(ctx, cleaner, "a1", target)
		require.NoError(t, err, target)
	}
	before, _ := st.Appointment("a1")
	require.NotNil(t, before.CleanerConfirmationDate)

	newStart := now.Add(72 * time.Hour)
	appt, err := m.Reschedule(ctx, admin, "a1", newStart)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.Equal(t, newStart, appt.StartTime)
	assert.Nil(t, appt.CleanerConfirmationDate)

	stored, _ := st.Appointment("a1")
	assert.Nil(t, stored.CleanerConfirmationDate)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestRescheduleRejectsStatuses(t *testing.T) {
	m, st := newMachine(t, 0)
	for _, s := range []model.Status{model.StatusCancelled, model.StatusCompleted, model.StatusInProgress, model.StatusEnRoute} {
		seed(st, string(s), "c1", s, now.Add(48*time.Hour))
		_, err := m.Reschedule(context.Background(), admin, string(s), now.Add(96*time.Hour))
		assert.Equal(t, apperr.KindPolicyViolation, kind(err), s)
	}
}

func TestAdvanceEmitsNotifications(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusPending, now.Add(2*time.Hour))
	ctx := context.Background()

	for _, target := range []model.Status{model.StatusConfirmed, model.StatusEnRoute, model.StatusInProgress, model.StatusAwaitingConfirmation} {
		appt, err := m.Advance(ctx, cleaner, "a1", target)
		require.NoError(t, err, target)
		assert.Equal(t, target, appt.Status)
	}

	var types []model.NotificationType
	for _, evt := range st.Events() {
		assert.Equal(t, outbox.TopicNotify, evt.EventType)
		var p outbox.NotifyPayload
		require.NoError(t, json.Unmarshal(evt.Payload, &p))
		assert.Equal(t, "a1", p.AppointmentID)
		types = append(types, p.Type)
	}
	assert.Equal(t, []model.NotificationType{model.NotifyEnRoute, model.NotifyStarted, model.NotifyFinished}, types)

	a, _ := st.Appointment("a1")
	require.NotNil(t, a.CleanerConfirmationDate)
}

func TestAdvanceRejects(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusPending, now.Add(2*time.Hour))
	ctx := context.Background()

	_, err := m.Advance(ctx, cleaner, "a1", model.StatusInProgress)
	assert.Equal(t, apperr.KindPolicyViolation, kind(err))

	_, err = m.Advance(ctx, cleaner, "a1", model.StatusCancelled)
	assert.Equal(t, apperr.KindValidation, kind(err))

	_, err = m.Advance(ctx, client, "a1", model.StatusConfirmed)
	assert.Equal(t, apperr.KindAuthorization, kind(err))

	assert.Empty(t, st.Events())
}

func TestFinishAppendsNotesAndImages(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusInProgress, now)
	a, _ := st.Appointment("a1")
	a.Notes = "bring ladder"
	a.ProofImages = []string{"img0"}
	st.PutAppointment(a)

	appt, err := m.Finish(context.Background(), cleaner, "a1", []string{"img1", "img2"}, "all rooms done")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingConfirmation, appt.Status)
	assert.Equal(t, "bring ladder\nall rooms done", appt.Notes)
	assert.Equal(t, []string{"img0", "img1", "img2"}, appt.ProofImages)
	require.Len(t, st.Events(), 1)
}

func TestClientConfirmRecurringDoesNotInvoice(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusAwaitingConfirmation, now.Add(-3*time.Hour))

	appt, inv, err := m.ClientConfirm(context.Background(), client, "a1")
	require.NoError(t, err)
	assert.Nil(t, inv)
	assert.Equal(t, model.StatusCompleted, appt.Status)
	require.NotNil(t, appt.ClientConfirmationDate)
	assert.Equal(t, now, *appt.ClientConfirmationDate)
	assert.Empty(t, st.Invoices())
}

func TestClientConfirmOneTimeInvoicesImmediately(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c2", model.StatusAwaitingConfirmation, now.Add(-3*time.Hour))

	appt, inv, err := m.ClientConfirm(context.Background(), other, "a1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, model.InvoiceOpen, inv.Status)
	assert.True(t, inv.Amount.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, now, inv.DueDate)
	require.NotNil(t, appt.InvoiceID)
	assert.Equal(t, inv.ID, *appt.InvoiceID)

	stored, _ := st.Appointment("a1")
	require.NotNil(t, stored.InvoiceID)
	assert.Equal(t, model.StatusCompleted, stored.Status)
}

func TestClientConfirmRejects(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusPending, now.Add(time.Hour))
	seed(st, "a2", "c2", model.StatusAwaitingConfirmation, now.Add(-time.Hour))

	_, _, err := m.ClientConfirm(context.Background(), client, "a1")
	assert.Equal(t, apperr.KindPolicyViolation, kind(err))

	_, _, err = m.ClientConfirm(context.Background(), client, "a2")
	assert.Equal(t, apperr.KindAuthorization, kind(err))
	assert.Empty(t, st.Invoices())
}

func TestListScopesClients(t *testing.T) {
	m, st := newMachine(t, 0)
	seed(st, "a1", "c1", model.StatusPending, now.Add(time.Hour))
	seed(st, "a2", "c2", model.StatusPending, now.Add(2*time.Hour))
	ctx := context.Background()

	all, err := m.List(ctx, admin, now, now.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := m.List(ctx, client, now, now.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a1", mine[0].ID)

	_, err = m.List(ctx, admin, now, now, 0)
	assert.Equal(t, apperr.KindValidation, kind(err))
}
