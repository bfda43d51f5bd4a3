package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ClaimIdempotencyKey locks the (tenant, key) row, inserting it on first use.
// A non-empty id means an earlier request with the same key already booked.
func (t *Tx) ClaimIdempotencyKey(ctx context.Context, tenantID, key string) (string, error) {
	id, err := t.selectIdempotencyForUpdate(ctx, tenantID, key)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key)
	if err != nil {
		return "", err
	}
	return t.selectIdempotencyForUpdate(ctx, tenantID, key)
}

func (t *Tx) FinalizeIdempotencyKey(ctx context.Context, tenantID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = 201,
			updated_at = now()
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, appointmentID)
	return err
}

func (t *Tx) selectIdempotencyForUpdate(ctx context.Context, tenantID, key string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(&id)
	return id, err
}
