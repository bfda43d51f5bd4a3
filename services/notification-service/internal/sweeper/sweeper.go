// Package sweeper sends DAY_BEFORE reminders for appointments that start on
// the tenant-local next day.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

type Candidate struct {
	AppointmentID string
	TenantID      string
	StartTime     time.Time
	Timezone      string
}

type Source interface {
	UpcomingUnreminded(ctx context.Context, from, to time.Time, limit int) ([]Candidate, error)
}

// Sender is satisfied by the dispatcher. Its own log makes repeat calls
// harmless.
type Sender interface {
	SendDayBefore(ctx context.Context, appointmentID string) (bool, error)
}

type Stats struct {
	Candidates int
	Sent       int
	Failed     int
}

type Sweeper struct {
	source    Source
	sender    Sender
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

func New(source Source, sender Sender, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		source:    source,
		sender:    sender,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		stats, err := s.Once(ctx)
		if err != nil {
			s.logger.Error("day-before sweep failed", "err", err)
		} else if stats.Candidates > 0 {
			s.logger.Info("day-before sweep", "candidates", stats.Candidates, "sent", stats.Sent, "failed", stats.Failed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Once scans the next 48 hours and sends to appointments whose local start
// date is tomorrow in their tenant's timezone.
func (s *Sweeper) Once(ctx context.Context) (Stats, error) {
	now := s.now()
	list, err := s.source.UpcomingUnreminded(ctx, now, now.Add(48*time.Hour), s.batchSize)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, c := range list {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		if !startsTomorrow(c, now) {
			continue
		}
		st.Candidates++
		sent, err := s.sender.SendDayBefore(ctx, c.AppointmentID)
		if err != nil {
			st.Failed++
			s.logger.Warn("day-before reminder failed", "err", err, "appointment_id", c.AppointmentID)
			continue
		}
		if sent {
			st.Sent++
		}
	}
	return st, nil
}

func startsTomorrow(c Candidate, now time.Time) bool {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		loc = time.UTC
	}
	local := now.In(loc)
	ty, tm, td := local.AddDate(0, 0, 1).Date()
	y, m, d := c.StartTime.In(loc).Date()
	return y == ty && m == tm && d == td
}
