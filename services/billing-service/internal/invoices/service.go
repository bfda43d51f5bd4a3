package invoices

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/metrics"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/payments"
)

const providerStripe = "stripe"

// WebhookOutcome tells the gateway caller what happened to a delivery.
type WebhookOutcome string

const (
	WebhookPaid        WebhookOutcome = "paid"
	WebhookAlreadyPaid WebhookOutcome = "already_paid"
	WebhookDuplicate   WebhookOutcome = "duplicate"
	WebhookIgnored     WebhookOutcome = "ignored"
)

type Config struct {
	// DefaultAPIKey is used for tenants without their own gateway key.
	DefaultAPIKey    string
	WebhookSecret    string
	WebhookTolerance time.Duration
	// SuccessURL may contain {invoice_id}.
	SuccessURL string
	WebhookURL string
}

type Service struct {
	store   Store
	gateway payments.Gateway
	logger  *slog.Logger
	metrics *metrics.PaymentMetrics
	cfg     Config
	now     func() time.Time
}

func NewService(store Store, gateway payments.Gateway, logger *slog.Logger, m *metrics.PaymentMetrics, cfg Config) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// List returns invoices visible to p. Staff may filter by customer; clients
// only ever see their own.
func (s *Service) List(ctx context.Context, p auth.Principal, customerID string, limit int) ([]Invoice, error) {
	f := ListFilter{TenantID: p.TenantID, CustomerID: strings.TrimSpace(customerID), Limit: limit}
	switch p.Role {
	case auth.RoleAdmin, auth.RoleSuperAdmin:
	case auth.RoleClient:
		own, err := s.ownCustomer(ctx, p)
		if err != nil {
			return nil, err
		}
		if f.CustomerID != "" && f.CustomerID != own {
			return nil, apperr.Authorization("not your customer record")
		}
		f.CustomerID = own
	default:
		return nil, apperr.Authorization("role not permitted")
	}
	out, err := s.store.ListInvoices(ctx, f)
	if err != nil {
		return nil, s.fail(ctx, "list invoices", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, p.TenantID, id)
	if err != nil {
		return Invoice{}, s.fail(ctx, "get invoice", err)
	}
	if err := s.authorize(ctx, p, inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// CreatePaymentLink attaches a gateway checkout link to an OPEN invoice. An
// invoice that already has a link returns it unchanged. Gateway failures
// leave the invoice untouched.
func (s *Service) CreatePaymentLink(ctx context.Context, p auth.Principal, id string) (Invoice, error) {
	inv, err := s.Get(ctx, p, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == StatusPaid {
		return Invoice{}, apperr.PolicyViolation("invoice already paid")
	}
	if inv.PaymentLinkID != "" {
		return inv, nil
	}
	if !inv.Amount.IsPositive() {
		return Invoice{}, apperr.PolicyViolation("invoice has nothing to pay")
	}
	if s.cfg.SuccessURL == "" {
		return Invoice{}, apperr.Integration("payment redirect not configured", nil)
	}

	key, err := s.gatewayKey(ctx, inv.TenantID)
	if err != nil {
		return Invoice{}, err
	}
	link, err := s.gateway.CreatePaymentLink(ctx, key, payments.LinkRequest{
		Amount:      inv.Amount,
		Description: "Invoice " + shortID(inv.ID) + " due " + inv.DueDate.Format("2006-01-02"),
		RedirectURL: strings.ReplaceAll(s.cfg.SuccessURL, "{invoice_id}", inv.ID),
		WebhookURL:  s.cfg.WebhookURL,
		Metadata: map[string]string{
			"invoice_id": inv.ID,
			"tenant_id":  inv.TenantID,
		},
	})
	if err != nil {
		s.metrics.ObserveLink("gateway_error")
		s.logger.Warn("payment link creation failed", "err", err, "invoice_id", inv.ID, "tenant_id", inv.TenantID)
		return Invoice{}, apperr.Integration("payment link could not be created", err)
	}
	if err := s.store.SetPaymentLink(ctx, inv.TenantID, inv.ID, link); err != nil {
		s.metrics.ObserveLink("store_error")
		return Invoice{}, s.fail(ctx, "store payment link", err)
	}
	s.metrics.ObserveLink("created")
	s.logger.Info("payment link created", "invoice_id", inv.ID, "tenant_id", inv.TenantID, "link_id", link.ID)

	inv.PaymentLinkID = link.ID
	inv.PaymentURL = link.CheckoutURL
	return inv, nil
}

// HandleWebhook verifies and applies one gateway delivery. Replays are
// recognised by provider event id and change nothing.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (WebhookOutcome, error) {
	if strings.TrimSpace(s.cfg.WebhookSecret) == "" {
		return "", apperr.Integration("payment webhook not configured", nil)
	}
	evt, err := payments.ParseWebhook(payload, sigHeader, s.cfg.WebhookSecret, s.cfg.WebhookTolerance)
	if err != nil {
		s.metrics.ObserveWebhook("rejected")
		if errors.Is(err, payments.ErrInvalidSignature) {
			return "", apperr.Validation("invalid signature")
		}
		return "", apperr.Validation("malformed event payload")
	}
	s.logger.Info("billing provider event received",
		"provider", providerStripe,
		"provider_event_id", evt.ID,
		"event_type", evt.Type,
		"occurred_at", evt.OccurredAt.Format(time.RFC3339),
	)

	outcome := WebhookIgnored
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertProviderEvent(ctx, ProviderEvent{
			Provider:  providerStripe,
			EventID:   evt.ID,
			EventType: evt.Type,
			Payload:   evt.Payload,
		}); err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, AuditEvent{
			EventType: "billing.provider.stripe.webhook",
			ActorType: "provider",
			TenantID:  evt.TenantID,
			Metadata: map[string]any{
				"provider_event_id": evt.ID,
				"event_type":        evt.Type,
				"invoice_id":        evt.InvoiceID,
			},
		}); err != nil {
			return err
		}
		if !evt.Paid {
			return nil
		}
		if evt.InvoiceID == "" {
			s.logger.Warn("stripe: checkout session without invoice_id metadata", "session_id", evt.SessionID)
			return nil
		}
		paid, err := s.settle(ctx, tx, evt.InvoiceID, evt.TenantID, evt.OccurredAt, "webhook")
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("stripe: paid session for unknown invoice", "invoice_id", evt.InvoiceID, "session_id", evt.SessionID)
			return nil
		}
		if err != nil {
			return err
		}
		if paid {
			outcome = WebhookPaid
		} else {
			outcome = WebhookAlreadyPaid
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateEvent) {
		s.metrics.ObserveWebhook(string(WebhookDuplicate))
		s.logger.Info("billing provider event duplicate ignored", "provider", providerStripe, "provider_event_id", evt.ID)
		return WebhookDuplicate, nil
	}
	if err != nil {
		s.metrics.ObserveWebhook("error")
		return "", s.fail(ctx, "apply provider event", err)
	}
	s.metrics.ObserveWebhook(string(outcome))
	return outcome, nil
}

// ReconcileOpen asks the gateway about OPEN invoices with a link and settles
// the ones that were paid but whose webhook never arrived. Failures are per
// invoice.
func (s *Service) ReconcileOpen(ctx context.Context, limit int) (int, error) {
	open, err := s.store.ListUnpaidLinked(ctx, limit)
	if err != nil {
		return 0, s.fail(ctx, "list unpaid invoices", err)
	}
	keys := map[string]string{}
	settled := 0
	for _, inv := range open {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		key, ok := keys[inv.TenantID]
		if !ok {
			key, err = s.gatewayKey(ctx, inv.TenantID)
			if err != nil {
				s.logger.Warn("reconcile: no gateway key", "err", err, "tenant_id", inv.TenantID)
				continue
			}
			keys[inv.TenantID] = key
		}
		paid, err := s.gateway.LinkPaid(ctx, key, inv.PaymentLinkID)
		if err != nil {
			s.logger.Warn("reconcile: gateway lookup failed", "err", err, "invoice_id", inv.ID, "link_id", inv.PaymentLinkID)
			continue
		}
		if !paid {
			continue
		}
		var changed bool
		err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			changed, err = s.settle(ctx, tx, inv.ID, inv.TenantID, s.now(), "reconcile")
			return err
		})
		if err != nil {
			s.logger.Error("reconcile: settle failed", "err", err, "invoice_id", inv.ID)
			continue
		}
		if changed {
			settled++
		}
	}
	return settled, nil
}

// settle marks an OPEN invoice PAID and emits the paid event. It reports
// false when the invoice was already paid.
func (s *Service) settle(ctx context.Context, tx Tx, invoiceID, tenantID string, at time.Time, source string) (bool, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		return false, err
	}
	if tenantID != "" && inv.TenantID != tenantID {
		s.logger.Warn("payment tenant mismatch", "invoice_id", invoiceID, "tenant_id", tenantID, "invoice_tenant_id", inv.TenantID)
		return false, ErrNotFound
	}
	if inv.Status == StatusPaid {
		return false, nil
	}
	at = at.UTC()
	if err := tx.MarkPaid(ctx, inv.ID, at); err != nil {
		return false, err
	}
	if err := tx.InsertEvent(ctx, outbox.InvoicePaid(outbox.InvoicePaidPayload{
		InvoiceID:  inv.ID,
		TenantID:   inv.TenantID,
		CustomerID: inv.CustomerID,
		Amount:     inv.Amount.StringFixed(2),
		Source:     source,
		PaidAt:     at,
	})); err != nil {
		return false, err
	}
	if source != "webhook" {
		if err := tx.InsertAudit(ctx, AuditEvent{
			EventType: "billing.invoice.paid",
			ActorType: source,
			TenantID:  inv.TenantID,
			Metadata:  map[string]any{"invoice_id": inv.ID},
		}); err != nil {
			return false, err
		}
	}
	s.logger.Info("invoice paid", "invoice_id", inv.ID, "tenant_id", inv.TenantID, "source", source)
	return true, nil
}

func (s *Service) authorize(ctx context.Context, p auth.Principal, inv Invoice) error {
	if inv.TenantID != p.TenantID {
		return apperr.Authorization("invoice belongs to another tenant")
	}
	switch p.Role {
	case auth.RoleAdmin, auth.RoleSuperAdmin:
		return nil
	case auth.RoleClient:
		own, err := s.ownCustomer(ctx, p)
		if err != nil {
			return err
		}
		if own != inv.CustomerID {
			return apperr.Authorization("not your invoice")
		}
		return nil
	}
	return apperr.Authorization("role not permitted")
}

func (s *Service) ownCustomer(ctx context.Context, p auth.Principal) (string, error) {
	id, err := s.store.CustomerIDByUser(ctx, p.TenantID, p.UserID)
	if errors.Is(err, ErrNotFound) {
		return "", apperr.Authorization("no customer record for user")
	}
	if err != nil {
		return "", s.fail(ctx, "resolve customer", err)
	}
	return id, nil
}

func (s *Service) gatewayKey(ctx context.Context, tenantID string) (string, error) {
	key, err := s.store.GatewayKey(ctx, tenantID)
	if err != nil {
		return "", s.fail(ctx, "load gateway key", err)
	}
	if strings.TrimSpace(key) == "" {
		key = s.cfg.DefaultAPIKey
	}
	if strings.TrimSpace(key) == "" {
		return "", apperr.Integration("payment gateway not configured for tenant", payments.ErrNoAPIKey)
	}
	return key, nil
}

func (s *Service) fail(ctx context.Context, op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("invoice not found")
	}
	s.logger.ErrorContext(ctx, "invoice store failure", "op", op, "err", err)
	return apperr.Persistence(op, err)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
