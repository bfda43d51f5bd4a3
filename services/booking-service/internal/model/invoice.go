package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "OPEN"
	InvoicePaid InvoiceStatus = "PAID"
)

type Invoice struct {
	ID             string
	TenantID       string
	CustomerID     string
	Amount         decimal.Decimal
	Status         InvoiceStatus
	DueDate        time.Time
	AppointmentIDs []string
	CreatedAt      time.Time
}

// NotificationType names a customer-facing lifecycle message.
type NotificationType string

const (
	NotifyDayBefore NotificationType = "DAY_BEFORE"
	NotifyEnRoute   NotificationType = "EN_ROUTE"
	NotifyStarted   NotificationType = "STARTED"
	NotifyFinished  NotificationType = "FINISHED"
)
