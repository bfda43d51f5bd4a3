package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by stores when a row does not exist in the caller's tenant.
var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusPending              Status = "PENDING"
	StatusConfirmed            Status = "CONFIRMED"
	StatusEnRoute              Status = "EN_ROUTE"
	StatusInProgress           Status = "IN_PROGRESS"
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION"
	StatusCompleted            Status = "COMPLETED"
	StatusCancelled            Status = "CANCELLED"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusEnRoute, StatusInProgress,
		StatusAwaitingConfirmation, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

type Appointment struct {
	ID                      string
	TenantID                string
	CustomerID              string
	ServiceID               string
	EmployeeID              *string
	StartTime               time.Time
	EndTime                 time.Time
	Status                  Status
	Price                   decimal.Decimal
	Notes                   string
	ProofImages             []string
	ClientConfirmationDate  *time.Time
	CleanerConfirmationDate *time.Time
	InvoiceID               *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// Service is a bookable offering of a tenant.
type Service struct {
	ID          string
	TenantID    string
	Name        string
	DurationMin int
	Price       decimal.Decimal
	Hourly      bool
}

// Employee is a cleaner an appointment can be assigned to.
type Employee struct {
	ID       string
	TenantID string
	UserID   *string
	Name     string
}
