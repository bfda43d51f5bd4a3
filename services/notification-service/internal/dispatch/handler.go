package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/segmentio/kafka-go"
)

// TopicNotify is produced by the booking service outbox.
const TopicNotify = "booking.appointment.notify.v1"

type notifyPayload struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// HandleMessage is the consumer callback for TopicNotify. Malformed messages
// and delivery failures are logged and dropped; only store failures are
// returned.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var p notifyPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		d.logger.Error("invalid notify payload", "err", err)
		return nil
	}
	typ, err := ParseType(p.Type)
	if err != nil || p.AppointmentID == "" {
		d.logger.Error("notify payload missing fields", "appointment_id", p.AppointmentID, "type", p.Type)
		return nil
	}

	res, err := d.Send(ctx, p.AppointmentID, typ)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPersistence {
			return err
		}
		d.logger.Warn("notification dropped", "err", err, "appointment_id", p.AppointmentID, "type", typ)
		return nil
	}
	if !res.Sent {
		d.logger.Info("notification skipped", "appointment_id", p.AppointmentID, "type", typ, "reason", res.SkippedReason)
	}
	return nil
}
