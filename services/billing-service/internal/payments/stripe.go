// Package payments talks to the payment gateway. Links are Stripe Checkout
// sessions created with the tenant's own secret key.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

var ErrNoAPIKey = errors.New("payment gateway api key missing")

// LinkRequest describes one payable amount.
type LinkRequest struct {
	Amount      decimal.Decimal
	Description string
	RedirectURL string
	WebhookURL  string
	Metadata    map[string]string
}

// Link is a hosted checkout page for a single payment.
type Link struct {
	ID          string
	CheckoutURL string
}

// Gateway creates payment links and reports whether they were paid.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, apiKey string, req LinkRequest) (Link, error)
	LinkPaid(ctx context.Context, apiKey, linkID string) (bool, error)
}

type StripeConfig struct {
	Currency string
	Timeout  time.Duration
	// Backends overrides the API endpoint; nil uses api.stripe.com.
	Backends *stripe.Backends
}

type StripeGateway struct {
	currency string
	timeout  time.Duration
	backends *stripe.Backends
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &StripeGateway{currency: currency, timeout: cfg.Timeout, backends: cfg.Backends}
}

func (g *StripeGateway) CreatePaymentLink(ctx context.Context, apiKey string, req LinkRequest) (Link, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Link{}, ErrNoAPIKey
	}
	cents := req.Amount.Shift(2).Round(0).IntPart()
	if cents <= 0 {
		return Link{}, errors.New("payment amount must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Stripe webhooks are configured per account, so the callback URL only
	// travels as metadata for the receiving side to cross-check.
	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.WebhookURL != "" {
		metadata["webhook_url"] = req.WebhookURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.RedirectURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(cents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := client.New(apiKey, g.backends).CheckoutSessions.New(params)
	if err != nil {
		return Link{}, err
	}
	return Link{ID: sess.ID, CheckoutURL: sess.URL}, nil
}

func (g *StripeGateway) LinkPaid(ctx context.Context, apiKey, linkID string) (bool, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return false, ErrNoAPIKey
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := client.New(apiKey, g.backends).CheckoutSessions.Get(linkID, params)
	if err != nil {
		return false, err
	}
	return sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid, nil
}
