package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleClient     Role = "CLIENT"
	RoleCleaner    Role = "CLEANER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSuperAdmin, RoleClient, RoleCleaner:
		return true
	}
	return false
}

// IsStaff reports roles that act on behalf of the tenant.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSuperAdmin || r == RoleCleaner
}

// Claims is the session token payload.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller passed into domain operations.
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
}

func (c Claims) Principal() Principal {
	return Principal{UserID: c.Subject, TenantID: c.TenantID, Role: c.Role}
}

// SignHS256 issues a token for p valid for ttl.
func SignHS256(p Principal, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: p.TenantID,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.TenantID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
