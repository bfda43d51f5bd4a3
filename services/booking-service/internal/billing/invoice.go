// Package billing turns completed, client-confirmed appointments into invoices,
// either immediately for one-time customers or on the customer's billing day.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrAlreadyBilled means another run linked one of the appointments first.
var ErrAlreadyBilled = errors.New("appointment already linked to an invoice")

// InvoiceWriter is the transactional surface Issue needs.
type InvoiceWriter interface {
	InsertInvoice(ctx context.Context, inv *model.Invoice) error
	// LinkAppointments sets invoice_id on rows whose invoice_id is still NULL
	// and returns the number of rows updated.
	LinkAppointments(ctx context.Context, tenantID, invoiceID string, appointmentIDs []string) (int64, error)
}

// Issue creates one OPEN invoice for appts and links every appointment to it.
// The caller's transaction must roll back when an error is returned.
func Issue(ctx context.Context, w InvoiceWriter, customer model.Customer, appts []model.Appointment, due time.Time) (model.Invoice, error) {
	if len(appts) == 0 {
		return model.Invoice{}, errors.New("issue invoice: no appointments")
	}
	amount := decimal.Zero
	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		if a.InvoiceID != nil {
			return model.Invoice{}, fmt.Errorf("appointment %s: %w", a.ID, ErrAlreadyBilled)
		}
		amount = amount.Add(a.Price)
		ids = append(ids, a.ID)
	}

	inv := model.Invoice{
		ID:             uuid.NewString(),
		TenantID:       customer.TenantID,
		CustomerID:     customer.ID,
		Amount:         amount,
		Status:         model.InvoiceOpen,
		DueDate:        due,
		AppointmentIDs: ids,
	}
	if err := w.InsertInvoice(ctx, &inv); err != nil {
		return model.Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	n, err := w.LinkAppointments(ctx, customer.TenantID, inv.ID, ids)
	if err != nil {
		return model.Invoice{}, fmt.Errorf("link appointments: %w", err)
	}
	if n != int64(len(ids)) {
		return model.Invoice{}, fmt.Errorf("linked %d of %d appointments: %w", n, len(ids), ErrAlreadyBilled)
	}
	return inv, nil
}
