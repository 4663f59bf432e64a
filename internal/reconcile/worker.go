// Package reconcile runs the lending reconciliation pass periodically. When
// several replicas share one database, a Redis lock lets one of them run each
// pass; without Redis every replica runs it, which is still safe.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	"github.com/acervoteatro/acervo/internal/lending"
)

// Reconciler is satisfied by *lending.Manager.
type Reconciler interface {
	Reconcile(ctx context.Context, grace time.Duration) (*lending.ReconcileReport, error)
}

// LockKey is the Redis key guarding a pass.
const LockKey = "acervo:lock:reconcile"

// Worker runs Reconcile every Interval.
type Worker struct {
	Reconciler Reconciler
	Locker     *redislock.Client
	Interval   time.Duration
	Grace      time.Duration
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("reconciliation worker started", "interval", interval, "grace", w.Grace, "locked", w.Locker != nil)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// RunOnce runs a single pass. It returns a nil report when another replica
// holds the lock.
func (w *Worker) RunOnce(ctx context.Context) (*lending.ReconcileReport, error) {
	if w.Locker != nil {
		ttl := w.Interval
		if ttl <= 0 {
			ttl = time.Minute
		}
		lock, err := w.Locker.Obtain(ctx, LockKey, ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			slog.Debug("reconciliation skipped, lock held elsewhere")
			return nil, nil
		}
		if err != nil {
			// Redis trouble must not stop healing; passes are safe to overlap.
			slog.Warn("reconciliation lock unavailable, running unlocked", "error", err)
		} else {
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					slog.Warn("releasing reconciliation lock", "error", err)
				}
			}()
		}
	}

	report, err := w.Reconciler.Reconcile(ctx, w.Grace)
	if err != nil {
		return report, err
	}
	if len(report.Released) > 0 || len(report.DanglingLoans) > 0 {
		slog.Info("reconciliation pass", "released", len(report.Released),
			"pending", len(report.Pending), "dangling_loans", len(report.DanglingLoans))
	}
	return report, nil
}
