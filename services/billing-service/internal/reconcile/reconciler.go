package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Settler settles invoices paid at the gateway whose webhook was missed.
type Settler interface {
	ReconcileOpen(ctx context.Context, limit int) (int, error)
}

// Locker elects one reconciling instance per pass.
type Locker interface {
	WithReconcileLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error)
}

type Reconciler struct {
	settler   Settler
	lock      Locker
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func New(settler Settler, lock Locker, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reconciler{
		settler:   settler,
		lock:      lock,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Once(ctx)
		}
	}
}

// Once runs a single pass. It reports whether this instance held the lock.
func (r *Reconciler) Once(ctx context.Context) bool {
	var settled int
	ok, err := r.lock.WithReconcileLock(ctx, func(ctx context.Context) error {
		var err error
		settled, err = r.settler.ReconcileOpen(ctx, r.batchSize)
		return err
	})
	if err != nil {
		r.logger.Error("stripe reconcile failed", "err", err)
		return ok
	}
	if !ok {
		r.logger.Info("stripe reconcile: advisory lock held by another instance")
		return false
	}
	if settled > 0 {
		r.logger.Info("stripe reconcile settled invoices", "count", settled)
	}
	return true
}
