// Command stripe-webhook-sim signs a checkout event for an invoice and posts
// it to billing-service, optionally several times to exercise webhook dedup.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/config"
	"github.com/cleanroute/cleanroute/libs/runtime"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookPath = "/api/v1/billing/webhooks/stripe"

func main() {
	config.LoadDotEnv()
	logger := runtime.NewLogger("stripe-webhook-sim")

	var (
		baseURL = flag.String("base-url", config.String("BILLING_URL", "http://localhost:8084"), "billing-service base url")
		evtType = flag.String("type", string(stripe.EventTypeCheckoutSessionCompleted), "stripe event type")
		invoice = flag.String("invoice-id", config.String("INVOICE_ID", ""), "invoice to settle")
		tenant  = flag.String("tenant-id", config.String("TENANT_ID", ""), "tenant of the invoice")
		session = flag.String("session-id", "cs_test_cleanroute", "checkout session id")
		paid    = flag.Bool("paid", true, "mark the session payment_status paid")
		replays = flag.Int("replays", 0, "extra deliveries of the same event")
		secret  = flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" || strings.TrimSpace(*invoice) == "" {
		logger.Error("STRIPE_WEBHOOK_SECRET and INVOICE_ID are required")
		os.Exit(2)
	}

	payload, err := checkoutEvent(*evtType, *session, *invoice, *tenant, *paid, time.Now().UTC())
	if err != nil {
		logger.Error("build event failed", "err", err)
		os.Exit(1)
	}

	url := strings.TrimRight(*baseURL, "/") + webhookPath
	client := &http.Client{Timeout: 10 * time.Second}
	for i := 0; i <= *replays; i++ {
		status, body, err := deliver(context.Background(), client, url, payload, *secret)
		if err != nil {
			logger.Error("delivery failed", "attempt", i+1, "err", err)
			os.Exit(1)
		}
		logger.Info("delivered", "attempt", i+1, "status", status, "body", body)
		if status < 200 || status > 299 {
			os.Exit(1)
		}
	}
}

func checkoutEvent(typ, sessionID, invoiceID, tenantID string, paid bool, at time.Time) ([]byte, error) {
	status := stripe.CheckoutSessionPaymentStatusUnpaid
	if paid {
		status = stripe.CheckoutSessionPaymentStatusPaid
	}
	raw, err := json.Marshal(stripe.CheckoutSession{
		ID:            sessionID,
		Object:        "checkout.session",
		PaymentStatus: status,
		Metadata:      map[string]string{"invoice_id": invoiceID, "tenant_id": tenantID},
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(stripe.Event{
		ID:         fmt.Sprintf("evt_cleanroute_%d", at.UnixNano()),
		Object:     "event",
		Created:    at.Unix(),
		Type:       stripe.EventType(typ),
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	})
}

func deliver(ctx context.Context, client *http.Client, url string, payload []byte, secret string) (int, string, error) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
