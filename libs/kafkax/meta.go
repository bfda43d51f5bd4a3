package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// EventMeta identifies an outbox event on the wire. EventID is the inbox
// dedup key on the consuming side.
type EventMeta struct {
	EventID   string
	EventType string
}

// Headers renders m as message headers, skipping empty values.
func (m EventMeta) Headers() []kafka.Header {
	headers := make([]kafka.Header, 0, 2)
	if m.EventID != "" {
		headers = append(headers, kafka.Header{Key: HeaderEventID, Value: []byte(m.EventID)})
	}
	if m.EventType != "" {
		headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(m.EventType)})
	}
	return headers
}

// ExtractEventMeta reads the event headers, falling back to the message key
// and topic for producers that do not set them.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, HeaderEventID),
		EventType: HeaderValue(msg.Headers, HeaderEventType),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma separated KAFKA_BROKERS value.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
