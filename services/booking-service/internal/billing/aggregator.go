package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanroute/cleanroute/libs/metrics"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
)

// Store is what the daily cycle reads and writes.
type Store interface {
	// DueCustomers returns active recurring customers whose billing day is day.
	// An empty tenantID covers every tenant.
	DueCustomers(ctx context.Context, tenantID string, day int) ([]model.Customer, error)
	// InTx runs fn in its own transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	InvoiceWriter
	// LockEligible returns COMPLETED, unbilled, client-confirmed appointments
	// of the customer, locked FOR UPDATE.
	LockEligible(ctx context.Context, tenantID, customerID string) ([]model.Appointment, error)
}

type Summary struct {
	InvoicesGenerated int      `json:"invoices_generated"`
	CustomersScanned  int      `json:"customers_scanned"`
	CustomersSkipped  int      `json:"customers_skipped"`
	Failures          int      `json:"failures"`
	InvoiceIDs        []string `json:"invoice_ids,omitempty"`
}

type Aggregator struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.BillingMetrics
}

func NewAggregator(store Store, logger *slog.Logger, m *metrics.BillingMetrics) *Aggregator {
	return &Aggregator{store: store, logger: logger, metrics: m}
}

// RunDailyCycle bills every due customer for the calendar day of today.
// Each customer is billed in its own transaction; a failing customer is
// logged and counted and the loop moves on. Running it twice on the same
// day creates nothing the second time because linked appointments are no
// longer eligible. A non-empty tenantID restricts the cycle to that tenant.
func (a *Aggregator) RunDailyCycle(ctx context.Context, today time.Time, tenantID string) (Summary, error) {
	var sum Summary
	customers, err := a.store.DueCustomers(ctx, tenantID, today.Day())
	if err != nil {
		return sum, fmt.Errorf("list due customers: %w", err)
	}
	due := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	for _, c := range customers {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.CustomersScanned++

		var issued *model.Invoice
		err := a.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			appts, err := tx.LockEligible(ctx, c.TenantID, c.ID)
			if err != nil {
				return fmt.Errorf("lock eligible appointments: %w", err)
			}
			if len(appts) == 0 {
				return nil
			}
			inv, err := Issue(ctx, tx, c, appts, due)
			if err != nil {
				return err
			}
			issued = &inv
			return nil
		})
		if err != nil {
			sum.Failures++
			a.metrics.ObserveFailure()
			a.logger.Error("billing customer failed",
				"tenant_id", c.TenantID,
				"customer_id", c.ID,
				"billing_day", c.BillingDay,
				"err", err,
			)
			continue
		}
		if issued == nil {
			sum.CustomersSkipped++
			continue
		}
		sum.InvoicesGenerated++
		sum.InvoiceIDs = append(sum.InvoiceIDs, issued.ID)
		a.metrics.ObserveInvoice("daily")
		a.logger.Info("invoice generated",
			"tenant_id", c.TenantID,
			"customer_id", c.ID,
			"invoice_id", issued.ID,
			"amount", issued.Amount.StringFixed(2),
			"appointments", len(issued.AppointmentIDs),
		)
	}
	return sum, nil
}
