package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/cleanroute/cleanroute/libs/metrics"
)

// RunLog remembers which calendar days were billed.
type RunLog interface {
	HasRun(ctx context.Context, day time.Time) (bool, error)
	RecordRun(ctx context.Context, day time.Time, trigger string, sum Summary) error
}

// RunLock serialises billing across replicas. fn runs only while the lock is
// held; ok is false when another instance holds it.
type RunLock interface {
	WithRunLock(ctx context.Context, fn func(ctx context.Context, log RunLog) error) (ok bool, err error)
}

// Runner triggers the daily cycle from a ticker or on demand.
type Runner struct {
	agg      *Aggregator
	lock     RunLock
	logger   *slog.Logger
	metrics  *metrics.BillingMetrics
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
}

type RunnerConfig struct {
	Interval time.Duration
	Location *time.Location
	// Now overrides the clock; tests only.
	Now func() time.Time
}

func NewRunner(agg *Aggregator, lock RunLock, logger *slog.Logger, m *metrics.BillingMetrics, cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		agg:      agg,
		lock:     lock,
		logger:   logger,
		metrics:  m,
		interval: cfg.Interval,
		loc:      cfg.Location,
		now:      cfg.Now,
	}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, _, err := r.Tick(ctx); err != nil {
		r.logger.Error("billing cycle failed", "err", err)
	}
}

// Tick runs the cycle for the current local day unless it already ran.
func (r *Runner) Tick(ctx context.Context) (Summary, bool, error) {
	today := r.now().In(r.loc)
	return r.run(ctx, today, "ticker", "", false)
}

// RunNow runs the cycle for day regardless of whether it already ran.
// A non-empty tenantID bills only that tenant and leaves the run log alone,
// so the ticker still covers the other tenants that day.
// ran is false when another instance holds the billing lock.
func (r *Runner) RunNow(ctx context.Context, day time.Time, trigger, tenantID string) (Summary, bool, error) {
	return r.run(ctx, day, trigger, tenantID, true)
}

func (r *Runner) run(ctx context.Context, day time.Time, trigger, tenantID string, force bool) (Summary, bool, error) {
	var sum Summary
	executed := false
	ok, err := r.lock.WithRunLock(ctx, func(ctx context.Context, log RunLog) error {
		if !force && tenantID == "" {
			done, err := log.HasRun(ctx, day)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
		s, err := r.agg.RunDailyCycle(ctx, day, tenantID)
		if err != nil {
			return err
		}
		sum = s
		executed = true
		r.metrics.ObserveRun(trigger)
		r.logger.Info("billing cycle finished",
			"date", day.Format("2006-01-02"),
			"trigger", trigger,
			"tenant_id", tenantID,
			"invoices", s.InvoicesGenerated,
			"scanned", s.CustomersScanned,
			"skipped", s.CustomersSkipped,
			"failures", s.Failures,
		)
		if tenantID != "" {
			return nil
		}
		return log.RecordRun(ctx, day, trigger, s)
	})
	if err != nil {
		return sum, false, err
	}
	if !ok {
		r.logger.Info("billing lock held by another instance", "trigger", trigger)
		return sum, false, nil
	}
	return sum, executed, nil
}
