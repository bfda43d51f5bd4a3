// Package dispatch turns appointment lifecycle moments into customer
// messages. Every attempt is written to notification_log; a SENT row for an
// (appointment, type) pair blocks later sends of that type, except EN_ROUTE.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/metrics"
)

type Type string

const (
	DayBefore Type = "DAY_BEFORE"
	EnRoute   Type = "EN_ROUTE"
	Started   Type = "STARTED"
	Finished  Type = "FINISHED"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case DayBefore, EnRoute, Started, Finished:
		return t, nil
	}
	return "", apperr.Validation("unknown notification type " + s)
}

// Repeatable types may be delivered more than once per appointment.
func (t Type) Repeatable() bool { return t == EnRoute }

type LogStatus string

const (
	LogSent    LogStatus = "SENT"
	LogFailed  LogStatus = "FAILED"
	LogSkipped LogStatus = "SKIPPED"
)

const (
	SkipDisabled    = "disabled"
	SkipAlreadySent = "already_sent"
	SkipNoRecipient = "no_recipient"
	SkipInactive    = "appointment_inactive"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadySent = errors.New("notification already sent")
)

// Toggles are the tenant's per-type switches.
type Toggles struct {
	DayBefore bool
	EnRoute   bool
	Started   bool
	Finished  bool
}

func (t Toggles) Enabled(typ Type) bool {
	switch typ {
	case DayBefore:
		return t.DayBefore
	case EnRoute:
		return t.EnRoute
	case Started:
		return t.Started
	case Finished:
		return t.Finished
	}
	return false
}

// Target is everything needed to address and word one message.
type Target struct {
	AppointmentID string
	TenantID      string
	Status        string
	StartTime     time.Time
	CustomerName  string
	Email         string
	Phone         string
	ServiceName   string
	Timezone      string
	Toggles       Toggles
}

type Entry struct {
	TenantID      string
	AppointmentID string
	Type          Type
	Recipient     string
	Channel       string
	Status        LogStatus
	Error         string
}

type Store interface {
	LoadTarget(ctx context.Context, appointmentID string) (Target, error)
	// Claim inserts a SENT row before delivery. It returns ErrAlreadySent
	// when a non-repeatable type was already sent.
	Claim(ctx context.Context, e Entry) (int64, error)
	// Finish rewrites a claimed row with the delivery outcome.
	Finish(ctx context.Context, id int64, status LogStatus, channel, recipient, errText string) error
	Append(ctx context.Context, e Entry) error
}

// Result reports whether a message went out, or why not.
type Result struct {
	Sent          bool   `json:"sent"`
	Channel       string `json:"channel,omitempty"`
	SkippedReason string `json:"skipped_reason,omitempty"`
}

type EmailSender interface {
	Send(to, subject, body string) error
}

type SMSSender interface {
	Send(ctx context.Context, to, body string) error
	ProviderID() string
}

type Dispatcher struct {
	store   Store
	email   EmailSender
	sms     SMSSender
	logger  *slog.Logger
	metrics *metrics.NotificationMetrics
}

func New(store Store, email EmailSender, sms SMSSender, logger *slog.Logger, m *metrics.NotificationMetrics) *Dispatcher {
	return &Dispatcher{store: store, email: email, sms: sms, logger: logger, metrics: m}
}

// Send delivers one notification of typ for the appointment. Email is tried
// first, then SMS. Delivery failures come back as integration errors after
// being logged.
func (d *Dispatcher) Send(ctx context.Context, appointmentID string, typ Type) (Result, error) {
	target, err := d.store.LoadTarget(ctx, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return Result{}, apperr.NotFound("appointment not found")
	}
	if err != nil {
		d.logger.Error("notification target lookup failed", "err", err, "appointment_id", appointmentID)
		return Result{}, apperr.Persistence("load notification target", err)
	}

	entry := Entry{TenantID: target.TenantID, AppointmentID: target.AppointmentID, Type: typ}
	switch {
	case !target.Toggles.Enabled(typ):
		return d.skip(ctx, entry, SkipDisabled)
	case typ == DayBefore && target.Status != "PENDING" && target.Status != "CONFIRMED":
		return d.skip(ctx, entry, SkipInactive)
	case target.Email == "" && (target.Phone == "" || d.sms == nil):
		return d.skip(ctx, entry, SkipNoRecipient)
	}

	entry.Status = LogSent
	entry.Channel, entry.Recipient = d.firstChannel(target)
	id, err := d.store.Claim(ctx, entry)
	if errors.Is(err, ErrAlreadySent) {
		return d.skip(ctx, entry, SkipAlreadySent)
	}
	if err != nil {
		d.logger.Error("notification claim failed", "err", err, "appointment_id", appointmentID, "type", typ)
		return Result{}, apperr.Persistence("claim notification", err)
	}

	channel, recipient, sendErr := d.deliver(ctx, target, typ)
	if sendErr != nil {
		if err := d.store.Finish(ctx, id, LogFailed, channel, recipient, sendErr.Error()); err != nil {
			d.logger.Error("notification log update failed", "err", err, "log_id", id)
		}
		d.metrics.ObserveDispatch(string(typ), "failed")
		d.logger.Warn("notification delivery failed", "err", sendErr, "appointment_id", appointmentID, "type", typ, "channel", channel)
		return Result{}, apperr.Integration("notification delivery failed", sendErr)
	}
	if channel != entry.Channel || recipient != entry.Recipient {
		if err := d.store.Finish(ctx, id, LogSent, channel, recipient, ""); err != nil {
			d.logger.Error("notification log update failed", "err", err, "log_id", id)
		}
	}
	d.metrics.ObserveDispatch(string(typ), "sent")
	d.logger.Info("notification sent", "appointment_id", appointmentID, "tenant_id", target.TenantID, "type", typ, "channel", channel)
	return Result{Sent: true, Channel: channel}, nil
}

// SendAs is the staff-triggered variant of Send.
func (d *Dispatcher) SendAs(ctx context.Context, p auth.Principal, appointmentID string, typ Type) (Result, error) {
	if p.Role != auth.RoleAdmin && p.Role != auth.RoleSuperAdmin {
		return Result{}, apperr.Authorization("role not permitted")
	}
	target, err := d.store.LoadTarget(ctx, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return Result{}, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return Result{}, apperr.Persistence("load notification target", err)
	}
	if target.TenantID != p.TenantID {
		return Result{}, apperr.Authorization("appointment belongs to another tenant")
	}
	return d.Send(ctx, appointmentID, typ)
}

func (d *Dispatcher) skip(ctx context.Context, e Entry, reason string) (Result, error) {
	e.Status = LogSkipped
	e.Error = reason
	if err := d.store.Append(ctx, e); err != nil {
		d.logger.Error("notification log append failed", "err", err, "appointment_id", e.AppointmentID)
	}
	d.metrics.ObserveDispatch(string(e.Type), "skipped_"+reason)
	return Result{SkippedReason: reason}, nil
}

func (d *Dispatcher) firstChannel(t Target) (string, string) {
	if t.Email != "" {
		return "email", t.Email
	}
	return d.sms.ProviderID(), t.Phone
}

func (d *Dispatcher) deliver(ctx context.Context, t Target, typ Type) (channel, recipient string, err error) {
	msg := compose(t, typ)
	if t.Email != "" && d.email != nil {
		channel, recipient = "email", t.Email
		if err = d.email.Send(t.Email, msg.Subject, msg.Body); err == nil {
			return channel, recipient, nil
		}
		d.logger.Warn("email send failed", "err", err, "appointment_id", t.AppointmentID)
	}
	if t.Phone != "" && d.sms != nil {
		channel, recipient = d.sms.ProviderID(), t.Phone
		err = d.sms.Send(ctx, t.Phone, msg.Short)
		return channel, recipient, err
	}
	if err == nil {
		err = errors.New("no delivery channel configured")
	}
	return channel, recipient, err
}

// SendDayBefore adapts Send for the reminder sweep.
func (d *Dispatcher) SendDayBefore(ctx context.Context, appointmentID string) (bool, error) {
	res, err := d.Send(ctx, appointmentID, DayBefore)
	return res.Sent, err
}
