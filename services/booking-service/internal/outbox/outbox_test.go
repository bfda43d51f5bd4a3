package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cleanroute/cleanroute/libs/kafkax"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyEventPayload(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	evt := NotifyEvent(model.Appointment{ID: "a1", TenantID: "t1"}, model.NotifyEnRoute, at)
	assert.Equal(t, TopicNotify, evt.EventType)
	assert.Equal(t, "a1", evt.AggregateID)

	var p NotifyPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, model.NotifyEnRoute, p.Type)
	assert.Equal(t, "t1", p.TenantID)
	assert.True(t, p.OccurredAt.Equal(at))
}

func TestInsertWritesRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	evt := Event{AggregateType: "appointment", AggregateID: "a1", EventType: TopicNotify, Payload: []byte(`{}`)}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("appointment", "a1", TopicNotify, []byte(`{}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, NewRepository().Insert(context.Background(), tx, evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchMarksPublished(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, event_id::text").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}).
			AddRow(int64(7), "evt-7", "appointment", "a1", TopicNotify, []byte(`{"type":"STARTED"}`), "", "", now))
	mock.ExpectExec("UPDATE outbox_events").
		WithArgs([]int64{7}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	w := &captureWriter{}
	p := NewPublisher(mock, NewRepository(), discardLogger(), PublisherConfig{})
	n, err := p.publishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, TopicNotify, w.msgs[0].Topic)
	assert.Equal(t, "evt-7", kafkax.HeaderValue(w.msgs[0].Headers, "event_id"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchKeepsRowsOnKafkaError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, event_id::text").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}).
			AddRow(int64(8), "evt-8", "appointment", "a2", TopicNotify, []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	p := NewPublisher(mock, NewRepository(), discardLogger(), PublisherConfig{})
	_, err = p.publishBatch(context.Background(), &captureWriter{err: errors.New("broker down")})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
