package outbox

import (
	"encoding/json"
	"time"

	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
)

// TopicNotify carries lifecycle moments the notification service turns into messages.
const TopicNotify = "booking.appointment.notify.v1"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NotifyPayload is the body of TopicNotify messages.
type NotifyPayload struct {
	AppointmentID string                 `json:"appointment_id"`
	TenantID      string                 `json:"tenant_id"`
	Type          model.NotificationType `json:"type"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

func NotifyEvent(appt model.Appointment, typ model.NotificationType, at time.Time) Event {
	payload, _ := json.Marshal(NotifyPayload{
		AppointmentID: appt.ID,
		TenantID:      appt.TenantID,
		Type:          typ,
		OccurredAt:    at.UTC(),
	})
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     TopicNotify,
		Payload:       payload,
	}
}
