// Package accounts issues the session tokens the other services verify.
package accounts

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrTokenRevoked = errors.New("refresh token revoked")
)

type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Role         auth.Role
}

type RefreshToken struct {
	ID        string
	UserID    string
	Hash      string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type Store interface {
	UserByEmail(ctx context.Context, tenantID, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	// CreateTenant inserts the tenant and its first admin together.
	CreateTenant(ctx context.Context, tenantID, name string, admin User) error
	InsertRefresh(ctx context.Context, t RefreshToken) error
	RefreshByHash(ctx context.Context, hash string) (RefreshToken, error)
	// RotateRefresh revokes oldID and inserts next atomically. It returns
	// ErrTokenRevoked if oldID was revoked concurrently.
	RotateRefresh(ctx context.Context, oldID string, next RefreshToken) error
	RevokeRefresh(ctx context.Context, id string) error
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type Service struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger, cfg Config) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{store: store, logger: logger, cfg: cfg, now: time.Now}
}

type RegisterInput struct {
	CompanyName string
	Email       string
	Password    string
}

// Register onboards a cleaning company: a new tenant plus its ADMIN user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Tokens, string, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.Email = normalizeEmail(in.Email)
	if in.CompanyName == "" || in.Email == "" {
		return Tokens{}, "", apperr.Validation("company_name and email are required")
	}
	if len(in.Password) < 8 {
		return Tokens{}, "", apperr.Validation("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return Tokens{}, "", apperr.Validation("password cannot be hashed")
	}
	tenantID := uuid.NewString()
	admin := User{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         auth.RoleAdmin,
	}
	if err := s.store.CreateTenant(ctx, tenantID, in.CompanyName, admin); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return Tokens{}, "", apperr.PolicyViolation("email already registered")
		}
		return Tokens{}, "", s.fail("create tenant", err)
	}
	s.logger.Info("tenant registered", "tenant_id", tenantID, "user_id", admin.ID)
	tok, err := s.issue(ctx, admin)
	return tok, tenantID, err
}

func (s *Service) Login(ctx context.Context, tenantID, email, password string) (Tokens, error) {
	email = normalizeEmail(email)
	if tenantID == "" || email == "" || password == "" {
		return Tokens{}, apperr.Validation("tenant_id, email and password are required")
	}
	u, err := s.store.UserByEmail(ctx, tenantID, email)
	if errors.Is(err, ErrNotFound) {
		return Tokens{}, apperr.Authentication("invalid credentials")
	}
	if err != nil {
		return Tokens{}, s.fail("lookup user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Tokens{}, apperr.Authentication("invalid credentials")
	}
	return s.issue(ctx, u)
}

// Refresh trades a live refresh token for a new pair. The old token is
// revoked; replaying it fails.
func (s *Service) Refresh(ctx context.Context, raw string) (Tokens, error) {
	cur, err := s.liveToken(ctx, raw)
	if err != nil {
		return Tokens{}, err
	}
	u, err := s.store.UserByID(ctx, cur.UserID)
	if errors.Is(err, ErrNotFound) {
		return Tokens{}, apperr.Authentication("invalid refresh token")
	}
	if err != nil {
		return Tokens{}, s.fail("lookup user", err)
	}
	access, err := s.access(u)
	if err != nil {
		return Tokens{}, err
	}
	nextRaw, next, err := s.newRefresh(u.ID)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.store.RotateRefresh(ctx, cur.ID, next); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return Tokens{}, apperr.Authentication("refresh token expired")
		}
		return Tokens{}, s.fail("rotate refresh token", err)
	}
	return s.tokens(access, nextRaw), nil
}

// Logout revokes the refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.Validation("refresh_token is required")
	}
	t, err := s.store.RefreshByHash(ctx, hashToken(raw))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.fail("lookup refresh token", err)
	}
	if t.RevokedAt != nil {
		return nil
	}
	if err := s.store.RevokeRefresh(ctx, t.ID); err != nil {
		return s.fail("revoke refresh token", err)
	}
	return nil
}

func (s *Service) liveToken(ctx context.Context, raw string) (RefreshToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RefreshToken{}, apperr.Validation("refresh_token is required")
	}
	t, err := s.store.RefreshByHash(ctx, hashToken(raw))
	if errors.Is(err, ErrNotFound) {
		return RefreshToken{}, apperr.Authentication("invalid refresh token")
	}
	if err != nil {
		return RefreshToken{}, s.fail("lookup refresh token", err)
	}
	if t.RevokedAt != nil || !t.ExpiresAt.After(s.now()) {
		return RefreshToken{}, apperr.Authentication("refresh token expired")
	}
	return t, nil
}

func (s *Service) issue(ctx context.Context, u User) (Tokens, error) {
	access, err := s.access(u)
	if err != nil {
		return Tokens{}, err
	}
	raw, rt, err := s.newRefresh(u.ID)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.store.InsertRefresh(ctx, rt); err != nil {
		return Tokens{}, s.fail("store refresh token", err)
	}
	return s.tokens(access, raw), nil
}

func (s *Service) access(u User) (string, error) {
	tok, err := auth.SignHS256(auth.Principal{UserID: u.ID, TenantID: u.TenantID, Role: u.Role}, s.cfg.Secret, s.cfg.AccessTTL)
	if err != nil {
		return "", apperr.Persistence("sign token", err)
	}
	return tok, nil
}

func (s *Service) newRefresh(userID string) (string, RefreshToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", RefreshToken{}, apperr.Persistence("generate refresh token", err)
	}
	raw := hex.EncodeToString(buf)
	return raw, RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Hash:      hashToken(raw),
		ExpiresAt: s.now().Add(s.cfg.RefreshTTL),
	}, nil
}

func (s *Service) tokens(access, refresh string) Tokens {
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL / time.Second),
	}
}

func (s *Service) fail(op string, err error) error {
	s.logger.Error(op+" failed", "err", err)
	return apperr.Persistence(op, err)
}

func normalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
