package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/dispatch"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/sweeper"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

// LoadTarget joins the appointment with its customer, service and the
// tenant's notification settings. Tenants without a config row get every
// toggle on.
func (r *Repository) LoadTarget(ctx context.Context, appointmentID string) (dispatch.Target, error) {
	var t dispatch.Target
	err := r.conn.QueryRow(ctx, `
		SELECT a.id::text, a.tenant_id::text, a.status, a.start_time,
		       c.name, c.email, c.phone, s.name,
		       COALESCE(sc.timezone, 'UTC'),
		       COALESCE(sc.notify_day_before, true), COALESCE(sc.notify_on_the_way, true),
		       COALESCE(sc.notify_service_started, true), COALESCE(sc.notify_service_finished, true)
		FROM appointments a
		JOIN customers c ON c.id = a.customer_id
		JOIN services s ON s.id = a.service_id
		LEFT JOIN scheduling_configs sc ON sc.tenant_id = a.tenant_id
		WHERE a.id = $1
	`, appointmentID).Scan(&t.AppointmentID, &t.TenantID, &t.Status, &t.StartTime,
		&t.CustomerName, &t.Email, &t.Phone, &t.ServiceName,
		&t.Timezone,
		&t.Toggles.DayBefore, &t.Toggles.EnRoute, &t.Toggles.Started, &t.Toggles.Finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return dispatch.Target{}, dispatch.ErrNotFound
	}
	return t, err
}

func (r *Repository) Claim(ctx context.Context, e dispatch.Entry) (int64, error) {
	var id int64
	err := r.conn.QueryRow(ctx, `
		INSERT INTO notification_log (tenant_id, appointment_id, type, recipient, channel, status)
		VALUES ($1, $2, $3, $4, $5, 'SENT')
		RETURNING id
	`, e.TenantID, e.AppointmentID, string(e.Type), e.Recipient, e.Channel).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, dispatch.ErrAlreadySent
	}
	return id, err
}

func (r *Repository) Finish(ctx context.Context, id int64, status dispatch.LogStatus, channel, recipient, errText string) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE notification_log
		SET status = $2, channel = $3, recipient = $4, error = $5
		WHERE id = $1
	`, id, string(status), channel, recipient, errText)
	return err
}

func (r *Repository) Append(ctx context.Context, e dispatch.Entry) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO notification_log (tenant_id, appointment_id, type, recipient, channel, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.TenantID, e.AppointmentID, string(e.Type), e.Recipient, e.Channel, string(e.Status), e.Error)
	return err
}

// UpcomingUnreminded lists active appointments starting in [from, to) that
// have no SENT day-before reminder yet.
func (r *Repository) UpcomingUnreminded(ctx context.Context, from, to time.Time, limit int) ([]sweeper.Candidate, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.conn.Query(ctx, `
		SELECT a.id::text, a.tenant_id::text, a.start_time, COALESCE(sc.timezone, 'UTC')
		FROM appointments a
		LEFT JOIN scheduling_configs sc ON sc.tenant_id = a.tenant_id
		WHERE a.status IN ('PENDING', 'CONFIRMED')
		  AND a.start_time >= $1 AND a.start_time < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM notification_log n
		      WHERE n.appointment_id = a.id AND n.type = 'DAY_BEFORE' AND n.status = 'SENT'
		  )
		ORDER BY a.start_time
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sweeper.Candidate
	for rows.Next() {
		var c sweeper.Candidate
		if err := rows.Scan(&c.AppointmentID, &c.TenantID, &c.StartTime, &c.Timezone); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
