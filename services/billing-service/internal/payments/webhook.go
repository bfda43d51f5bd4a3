package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is the part of a gateway event the invoice flow acts on.
type WebhookEvent struct {
	ID         string
	Type       string
	OccurredAt time.Time
	Payload    []byte

	// Set for checkout session events only.
	SessionID string
	InvoiceID string
	TenantID  string
	Paid      bool
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func ParseWebhook(payload []byte, sigHeader, secret string, tolerance time.Duration) (WebhookEvent, error) {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	evt, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{
		ID:         evt.ID,
		Type:       string(evt.Type),
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
		Payload:    payload,
	}
	if !strings.HasPrefix(out.Type, "checkout.session.") || evt.Data == nil {
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = sess.ID
	out.InvoiceID = strings.TrimSpace(sess.Metadata["invoice_id"])
	out.TenantID = strings.TrimSpace(sess.Metadata["tenant_id"])
	out.Paid = sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		evt.Type == "checkout.session.async_payment_succeeded"
	return out, nil
}
