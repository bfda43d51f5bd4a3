package storage

import (
	"context"

	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

const customerColumns = `id::text, tenant_id::text, user_id::text, name, email, phone, address,
	lat, lng, frequency, billing_day, active, created_at`

func scanCustomer(row pgx.Row) (model.Customer, error) {
	var c model.Customer
	var freq string
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.UserID,
		&c.Name,
		&c.Email,
		&c.Phone,
		&c.Address,
		&c.Lat,
		&c.Lng,
		&freq,
		&c.BillingDay,
		&c.Active,
		&c.CreatedAt,
	)
	if err != nil {
		return model.Customer{}, notFound(err)
	}
	c.Frequency = model.Frequency(freq)
	return c, nil
}

func collectCustomers(rows pgx.Rows) ([]model.Customer, error) {
	defer rows.Close()
	out := []model.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CreateCustomer inserts c and, when passwordHash is set, a CLIENT login
// linked to it. Both rows commit together.
func (r *Repository) CreateCustomer(ctx context.Context, c *model.Customer, passwordHash string) error {
	return db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		if passwordHash != "" {
			var userID string
			err := tx.QueryRow(ctx, `
				INSERT INTO users (tenant_id, email, password_hash, role)
				VALUES ($1, $2, $3, 'CLIENT')
				RETURNING id::text
			`, c.TenantID, c.Email, passwordHash).Scan(&userID)
			if err != nil {
				return err
			}
			c.UserID = &userID
		}
		return tx.QueryRow(ctx, `
			INSERT INTO customers (tenant_id, user_id, name, email, phone, address, frequency, billing_day, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id::text, created_at
		`, c.TenantID, c.UserID, c.Name, c.Email, c.Phone, c.Address, string(c.Frequency), c.BillingDay, c.Active).
			Scan(&c.ID, &c.CreatedAt)
	})
}

func (r *Repository) GetCustomer(ctx context.Context, tenantID, id string) (model.Customer, error) {
	return scanCustomer(r.conn.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
}

// MissingCoordinates lists active customers of the tenant with an address but no coordinates.
func (r *Repository) MissingCoordinates(ctx context.Context, tenantID string, limit int) ([]model.Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE tenant_id = $1
			AND active
			AND address <> ''
			AND (lat IS NULL OR lng IS NULL)
		ORDER BY created_at ASC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return collectCustomers(rows)
}

func (r *Repository) SetCoordinates(ctx context.Context, customerID string, lat, lng float64) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE customers SET lat = $2, lng = $3 WHERE id = $1
	`, customerID, lat, lng)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
