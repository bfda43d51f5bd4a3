package storage

import (
	"context"
	"errors"

	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/auth-service/internal/accounts"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

const userColumns = `id::text, tenant_id::text, email, password_hash, role`

func scanUser(row pgx.Row) (accounts.User, error) {
	var u accounts.User
	var role string
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounts.User{}, accounts.ErrNotFound
	}
	u.Role = auth.Role(role)
	return u, err
}

func (r *Repository) UserByEmail(ctx context.Context, tenantID, email string) (accounts.User, error) {
	return scanUser(r.conn.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE tenant_id = $1 AND lower(email) = $2
	`, tenantID, email))
}

func (r *Repository) UserByID(ctx context.Context, id string) (accounts.User, error) {
	return scanUser(r.conn.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
}

func (r *Repository) CreateTenant(ctx context.Context, tenantID, name string, admin accounts.User) error {
	return db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, tenantID, name); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, tenant_id, email, password_hash, role)
			VALUES ($1, $2, $3, $4, $5)
		`, admin.ID, tenantID, admin.Email, admin.PasswordHash, string(admin.Role))
		if db.IsUniqueViolation(err) {
			return accounts.ErrEmailTaken
		}
		return err
	})
}

func (r *Repository) InsertRefresh(ctx context.Context, t accounts.RefreshToken) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.UserID, t.Hash, t.ExpiresAt)
	return err
}

func (r *Repository) RefreshByHash(ctx context.Context, hash string) (accounts.RefreshToken, error) {
	var t accounts.RefreshToken
	err := r.conn.QueryRow(ctx, `
		SELECT id::text, user_id::text, token_hash, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hash).Scan(&t.ID, &t.UserID, &t.Hash, &t.ExpiresAt, &t.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounts.RefreshToken{}, accounts.ErrNotFound
	}
	return t, err
}

func (r *Repository) RotateRefresh(ctx context.Context, oldID string, next accounts.RefreshToken) error {
	return db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = now()
			WHERE id = $1 AND revoked_at IS NULL
		`, oldID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return accounts.ErrTokenRevoked
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
			VALUES ($1, $2, $3, $4)
		`, next.ID, next.UserID, next.Hash, next.ExpiresAt)
		return err
	})
}

func (r *Repository) RevokeRefresh(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	return err
}
