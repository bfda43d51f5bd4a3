// Package storage holds the Postgres repositories of the booking service.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/lifecycle"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const appointmentColumns = `id::text, tenant_id::text, customer_id::text, service_id::text, employee_id::text,
	start_time, end_time, status, price::text, notes, proof_images,
	client_confirmation_date, cleaner_confirmation_date, invoice_id::text, created_at, updated_at`

type Repository struct {
	conn   db.Conn
	outbox *outbox.Repository
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn, outbox: outbox.NewRepository()}
}

// InTx runs fn in a transaction committed only when fn succeeds.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Tx) error) error {
	return db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		return fn(ctx, &Tx{tx: tx, outbox: r.outbox})
	})
}

func (r *Repository) ListAppointments(ctx context.Context, f lifecycle.ListFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND ($2 = '' OR customer_id::text = $2)
			AND start_time >= $3
			AND start_time < $4
		ORDER BY start_time ASC
		LIMIT $5
	`, f.TenantID, f.CustomerID, f.From, f.To, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// BusyIntervals returns the non-cancelled appointments overlapping [start, end).
func (r *Repository) BusyIntervals(ctx context.Context, tenantID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND status <> 'CANCELLED'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, tenantID, start, end)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *Repository) GetCustomerByUser(ctx context.Context, tenantID, userID string) (model.Customer, error) {
	return scanCustomer(r.conn.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID))
}

// Tx is a lifecycle and billing transaction backed by pgx.
type Tx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *Tx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *Tx) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	return scanCustomer(t.tx.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
	`, id))
}

func (t *Tx) GetService(ctx context.Context, id string) (model.Service, error) {
	return scanService(t.tx.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, duration_min, price::text, hourly
		FROM services
		WHERE id = $1 AND active
	`, id))
}

func (t *Tx) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	var e model.Employee
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, user_id::text, name
		FROM employees
		WHERE id = $1
	`, id).Scan(&e.ID, &e.TenantID, &e.UserID, &e.Name)
	if err != nil {
		return model.Employee{}, notFound(err)
	}
	return e, nil
}

// GetService loads an active service of the tenant outside any transaction.
func (r *Repository) GetService(ctx context.Context, tenantID, id string) (model.Service, error) {
	return scanService(r.conn.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, duration_min, price::text, hourly
		FROM services
		WHERE id = $1 AND tenant_id = $2 AND active
	`, id, tenantID))
}

func scanService(row pgx.Row) (model.Service, error) {
	var svc model.Service
	var price string
	err := row.Scan(&svc.ID, &svc.TenantID, &svc.Name, &svc.DurationMin, &price, &svc.Hourly)
	if err != nil {
		return model.Service{}, notFound(err)
	}
	svc.Price, err = decimal.NewFromString(price)
	if err != nil {
		return model.Service{}, fmt.Errorf("service %s price: %w", svc.ID, err)
	}
	return svc, nil
}

func (t *Tx) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	images := a.ProofImages
	if images == nil {
		images = []string{}
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, tenant_id, customer_id, service_id, employee_id, start_time, end_time, status, price, notes, proof_images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11)
		RETURNING created_at, updated_at
	`, a.ID, a.TenantID, a.CustomerID, a.ServiceID, a.EmployeeID, a.StartTime, a.EndTime,
		string(a.Status), a.Price.String(), a.Notes, images).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// UpdateAppointment writes the mutable lifecycle columns. invoice_id is only
// ever set by LinkAppointments.
func (t *Tx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	images := a.ProofImages
	if images == nil {
		images = []string{}
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			start_time = $3,
			end_time = $4,
			notes = $5,
			proof_images = $6,
			client_confirmation_date = $7,
			cleaner_confirmation_date = $8,
			updated_at = now()
		WHERE id = $1
	`, a.ID, string(a.Status), a.StartTime, a.EndTime, a.Notes, images,
		a.ClientConfirmationDate, a.CleanerConfirmationDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *Tx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status, price string
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.CustomerID,
		&a.ServiceID,
		&a.EmployeeID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&price,
		&a.Notes,
		&a.ProofImages,
		&a.ClientConfirmationDate,
		&a.CleanerConfirmationDate,
		&a.InvoiceID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, notFound(err)
	}
	a.Status = model.Status(status)
	a.Price, err = decimal.NewFromString(price)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("appointment %s price: %w", a.ID, err)
	}
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	appts := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// notFound maps pgx.ErrNoRows to model.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}
