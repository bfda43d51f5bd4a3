package invoices_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/invoices"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/memstore"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/payments"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const whsec = "whsec_test"

var (
	admin   = auth.Principal{UserID: "u-admin", TenantID: "t1", Role: auth.RoleAdmin}
	client  = auth.Principal{UserID: "u-client", TenantID: "t1", Role: auth.RoleClient}
	cleaner = auth.Principal{UserID: "u-cleaner", TenantID: "t1", Role: auth.RoleCleaner}
	foreign = auth.Principal{UserID: "u-admin2", TenantID: "t2", Role: auth.RoleAdmin}
)

type fakeGateway struct {
	created []payments.LinkRequest
	keys    []string
	err     error
	paid    map[string]bool
}

func (g *fakeGateway) CreatePaymentLink(_ context.Context, apiKey string, req payments.LinkRequest) (payments.Link, error) {
	if g.err != nil {
		return payments.Link{}, g.err
	}
	g.keys = append(g.keys, apiKey)
	g.created = append(g.created, req)
	return payments.Link{ID: "cs_" + req.Metadata["invoice_id"], CheckoutURL: "https://pay.example/" + req.Metadata["invoice_id"]}, nil
}

func (g *fakeGateway) LinkPaid(_ context.Context, _ string, linkID string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	return g.paid[linkID], nil
}

func newService(t *testing.T) (*invoices.Service, *memstore.Store, *fakeGateway) {
	t.Helper()
	st := memstore.New()
	st.PutCustomerUser("t1", client.UserID, "c1")
	st.PutGatewayKey("t1", "sk_tenant")
	st.PutInvoice(invoices.Invoice{ID: "inv-1", TenantID: "t1", CustomerID: "c1", Amount: decimal.RequireFromString("120.50"), Status: invoices.StatusOpen, DueDate: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)})
	st.PutInvoice(invoices.Invoice{ID: "inv-2", TenantID: "t1", CustomerID: "c2", Amount: decimal.RequireFromString("40"), Status: invoices.StatusOpen})
	st.PutInvoice(invoices.Invoice{ID: "inv-3", TenantID: "t1", CustomerID: "c1", Amount: decimal.RequireFromString("10"), Status: invoices.StatusPaid})

	gw := &fakeGateway{paid: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := invoices.NewService(st, gw, logger, nil, invoices.Config{
		WebhookSecret: whsec,
		SuccessURL:    "https://app.example/invoices/{invoice_id}/paid",
		WebhookURL:    "https://api.example/api/v1/billing/webhooks/stripe",
	})
	return svc, st, gw
}

func signedEvent(t *testing.T, id, typ, invoiceID, tenantID, paymentStatus string) ([]byte, string) {
	t.Helper()
	now := time.Now()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"created":     now.Unix(),
		"type":        typ,
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_1",
				"object":         "checkout.session",
				"payment_status": paymentStatus,
				"metadata":       map[string]any{"invoice_id": invoiceID, "tenant_id": tenantID},
			},
		},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: whsec, Timestamp: now, Scheme: "v1"})
	return payload, signed.Header
}

func TestListScopesClientsToOwnCustomer(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	all, err := svc.List(ctx, admin, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	own, err := svc.List(ctx, client, "", 0)
	require.NoError(t, err)
	require.Len(t, own, 2)
	for _, inv := range own {
		assert.Equal(t, "c1", inv.CustomerID)
	}

	_, err = svc.List(ctx, client, "c2", 0)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = svc.List(ctx, cleaner, "", 0)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestGetChecksTenantAndOwner(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	inv, err := svc.Get(ctx, client, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "120.5", inv.Amount.String())

	_, err = svc.Get(ctx, client, "inv-2")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = svc.Get(ctx, foreign, "inv-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreatePaymentLink(t *testing.T) {
	svc, st, gw := newService(t)
	ctx := context.Background()

	inv, err := svc.CreatePaymentLink(ctx, client, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "cs_inv-1", inv.PaymentLinkID)
	assert.Equal(t, "https://pay.example/inv-1", st.Invoice("inv-1").PaymentURL)

	require.Len(t, gw.created, 1)
	req := gw.created[0]
	assert.Equal(t, []string{"sk_tenant"}, gw.keys)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("120.50")))
	assert.Equal(t, "https://app.example/invoices/inv-1/paid", req.RedirectURL)
	assert.Equal(t, "https://api.example/api/v1/billing/webhooks/stripe", req.WebhookURL)
	assert.Equal(t, "t1", req.Metadata["tenant_id"])

	again, err := svc.CreatePaymentLink(ctx, admin, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, inv.PaymentLinkID, again.PaymentLinkID)
	assert.Len(t, gw.created, 1, "existing link is reused")
}

func TestCreatePaymentLinkRejectsPaidInvoice(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CreatePaymentLink(context.Background(), admin, "inv-3")
	assert.Equal(t, apperr.KindPolicyViolation, apperr.KindOf(err))
}

func TestCreatePaymentLinkGatewayFailureLeavesInvoiceUntouched(t *testing.T) {
	svc, st, gw := newService(t)
	gw.err = errors.New("card_error")

	_, err := svc.CreatePaymentLink(context.Background(), admin, "inv-2")
	assert.Equal(t, apperr.KindIntegration, apperr.KindOf(err))
	assert.Empty(t, st.Invoice("inv-2").PaymentLinkID)
}

func TestCreatePaymentLinkWithoutKey(t *testing.T) {
	svc, st, _ := newService(t)
	st.PutGatewayKey("t1", "")
	_, err := svc.CreatePaymentLink(context.Background(), admin, "inv-2")
	assert.Equal(t, apperr.KindIntegration, apperr.KindOf(err))
}

func TestWebhookMarksInvoicePaidOnce(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", "inv-1", "t1", "paid")

	outcome, err := svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, invoices.WebhookPaid, outcome)

	inv := st.Invoice("inv-1")
	assert.Equal(t, invoices.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)

	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, outbox.TopicInvoicePaid, events[0].EventType)
	var p outbox.InvoicePaidPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &p))
	assert.Equal(t, "120.50", p.Amount)
	assert.Equal(t, "webhook", p.Source)

	outcome, err = svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, invoices.WebhookDuplicate, outcome)
	assert.Len(t, st.Events(), 1)

	payload2, sig2 := signedEvent(t, "evt_2", "checkout.session.completed", "inv-1", "t1", "paid")
	outcome, err = svc.HandleWebhook(ctx, payload2, sig2)
	require.NoError(t, err)
	assert.Equal(t, invoices.WebhookAlreadyPaid, outcome)
}

func TestWebhookIgnoresUnpaidAndForeignSessions(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", "inv-1", "t1", "unpaid")
	outcome, err := svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, invoices.WebhookIgnored, outcome)

	payload, sig = signedEvent(t, "evt_2", "checkout.session.completed", "inv-1", "t2", "paid")
	outcome, err = svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, invoices.WebhookIgnored, outcome)
	assert.Equal(t, invoices.StatusOpen, st.Invoice("inv-1").Status)
	assert.Len(t, st.Audits(), 2)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	svc, _, _ := newService(t)
	payload, _ := signedEvent(t, "evt_1", "checkout.session.completed", "inv-1", "t1", "paid")
	_, err := svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestWebhookRollsBackOnFailure(t *testing.T) {
	svc, st, _ := newService(t)
	st.FailEvents = true
	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", "inv-1", "t1", "paid")

	_, err := svc.HandleWebhook(context.Background(), payload, sig)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	assert.Equal(t, invoices.StatusOpen, st.Invoice("inv-1").Status)

	st.FailEvents = false
	outcome, err := svc.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, invoices.WebhookPaid, outcome, "failed delivery is not remembered")
}

func TestReconcileOpenSettlesPaidLinks(t *testing.T) {
	svc, st, gw := newService(t)
	ctx := context.Background()
	_, err := svc.CreatePaymentLink(ctx, admin, "inv-1")
	require.NoError(t, err)
	_, err = svc.CreatePaymentLink(ctx, admin, "inv-2")
	require.NoError(t, err)
	gw.paid["cs_inv-2"] = true

	n, err := svc.ReconcileOpen(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, invoices.StatusOpen, st.Invoice("inv-1").Status)
	assert.Equal(t, invoices.StatusPaid, st.Invoice("inv-2").Status)

	n, err = svc.ReconcileOpen(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
