// Package customers onboards tenant customers and keeps their coordinates filled in.
package customers

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/geocode"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"golang.org/x/crypto/bcrypt"
)

type Store interface {
	geocode.CoordinateWriter
	// CreateCustomer inserts the customer, and a CLIENT user when passwordHash
	// is set, in one transaction.
	CreateCustomer(ctx context.Context, c *model.Customer, passwordHash string) error
	GetCustomer(ctx context.Context, tenantID, id string) (model.Customer, error)
	MissingCoordinates(ctx context.Context, tenantID string, limit int) ([]model.Customer, error)
}

type CreateRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	Frequency  string `json:"frequency"`
	BillingDay int    `json:"billing_day"`
	// Password creates a CLIENT login for the customer when set.
	Password string `json:"password"`
}

type Service struct {
	store   Store
	geo     geocode.Geocoder
	logger  *slog.Logger
	timeout time.Duration
}

func NewService(store Store, geo geocode.Geocoder, logger *slog.Logger) *Service {
	return &Service{store: store, geo: geo, logger: logger, timeout: 15 * time.Second}
}

func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (model.Customer, error) {
	c, err := validate(tenantID, req)
	if err != nil {
		return model.Customer{}, err
	}
	hash := ""
	if req.Password != "" {
		if len(req.Password) < 8 {
			return model.Customer{}, apperr.Validation("password must be at least 8 characters")
		}
		if c.Email == "" {
			return model.Customer{}, apperr.Validation("email is required for a client login")
		}
		b, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return model.Customer{}, apperr.Persistence("hash password", err)
		}
		hash = string(b)
	}

	if err := s.store.CreateCustomer(ctx, &c, hash); err != nil {
		if db.IsUniqueViolation(err) {
			return model.Customer{}, apperr.PolicyViolation("a user with this email already exists")
		}
		s.logger.Error("create customer failed", "tenant_id", tenantID, "err", err)
		return model.Customer{}, apperr.Persistence("create customer", err)
	}

	if s.geo != nil && c.Address != "" {
		gctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		p, err := s.geo.Geocode(gctx, c.Address)
		switch {
		case err != nil:
			s.logger.Warn("geocode on create failed", "tenant_id", tenantID, "customer_id", c.ID, "err", err)
		case p != nil:
			if err := s.store.SetCoordinates(ctx, c.ID, p.Lat, p.Lng); err != nil {
				s.logger.Warn("save coordinates failed", "tenant_id", tenantID, "customer_id", c.ID, "err", err)
			} else {
				c.Lat, c.Lng = &p.Lat, &p.Lng
			}
		}
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (model.Customer, error) {
	c, err := s.store.GetCustomer(ctx, tenantID, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Customer{}, apperr.NotFound("customer not found")
	}
	if err != nil {
		return model.Customer{}, apperr.Persistence("load customer", err)
	}
	return c, nil
}

// GeocodeMissing fills coordinates for up to limit customers of the tenant.
func (s *Service) GeocodeMissing(ctx context.Context, tenantID string, limit int) (geocode.BatchResult, error) {
	if s.geo == nil {
		return geocode.BatchResult{}, apperr.Integration("geocoder not configured", nil)
	}
	pending, err := s.store.MissingCoordinates(ctx, tenantID, limit)
	if err != nil {
		return geocode.BatchResult{}, apperr.Persistence("list customers without coordinates", err)
	}
	res, err := geocode.Batch(ctx, s.geo, s.store, pending, s.logger)
	if err != nil {
		return res, err
	}
	s.logger.Info("geocode batch finished",
		"tenant_id", tenantID,
		"geocoded", res.Geocoded,
		"no_match", res.NoMatch,
		"failed", res.Failed,
	)
	return res, nil
}

func validate(tenantID string, req CreateRequest) (model.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Customer{}, apperr.Validation("name is required")
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return model.Customer{}, apperr.Validation("email is invalid")
		}
	}
	freq := model.FrequencyOneTime
	if req.Frequency != "" {
		f, ok := model.ParseFrequency(strings.ToUpper(req.Frequency))
		if !ok {
			return model.Customer{}, apperr.Validation("frequency must be ONE_TIME, WEEKLY, BIWEEKLY or MONTHLY")
		}
		freq = f
	}
	day := req.BillingDay
	if day == 0 {
		day = 1
	}
	if day < 1 || day > 31 {
		return model.Customer{}, apperr.Validation("billing_day must be between 1 and 31")
	}
	return model.Customer{
		TenantID:   tenantID,
		Name:       name,
		Email:      email,
		Phone:      strings.TrimSpace(req.Phone),
		Address:    strings.TrimSpace(req.Address),
		Frequency:  freq,
		BillingDay: day,
		Active:     true,
	}, nil
}
