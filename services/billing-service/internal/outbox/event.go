package outbox

import (
	"context"
	"encoding/json"
	"time"

	otelx "github.com/cleanroute/cleanroute/libs/otel"
	"github.com/jackc/pgx/v5"
)

// TopicInvoicePaid announces invoices settled through the payment gateway.
const TopicInvoicePaid = "billing.invoice.paid.v1"

// Event is the domain event envelope written to the outbox table. Rows are
// relayed to Kafka by the booking service publisher; the topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type InvoicePaidPayload struct {
	InvoiceID  string    `json:"invoice_id"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	Amount     string    `json:"amount"`
	Source     string    `json:"source"`
	PaidAt     time.Time `json:"paid_at"`
}

func InvoicePaid(p InvoicePaidPayload) Event {
	payload, _ := json.Marshal(p)
	return Event{
		AggregateType: "invoice",
		AggregateID:   p.InvoiceID,
		EventType:     TopicInvoicePaid,
		Payload:       payload,
	}
}

// Insert stores evt in the caller's transaction.
func Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Parent, tc.State)
	return err
}
