package lending

import (
	"context"
	"log/slog"
	"time"

	"github.com/acervoteatro/acervo/internal/cache"
	"github.com/acervoteatro/acervo/internal/store"
)

// DefaultGrace is how long an item may be loaned without an active loan
// before Reconcile releases it. It covers the window between a borrow's item
// transition and its loan insert.
const DefaultGrace = 5 * time.Minute

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Released      []string `json:"released"`
	Pending       []string `json:"pending"`
	DanglingLoans []string `json:"dangling_loans"`
}

// Reconcile releases items marked loaned that have had no active loan for
// longer than grace. Each release re-checks all conditions in one statement,
// so concurrent passes and concurrent borrows are safe. Active loans whose
// item is not loaned are only reported.
func (m *Manager) Reconcile(ctx context.Context, grace time.Duration) (*ReconcileReport, error) {
	if grace < 0 {
		grace = DefaultGrace
	}
	report := &ReconcileReport{}
	now := m.now()

	orphans, err := store.ListOrphanedLoanedItems(ctx, m.DB)
	if err != nil {
		return nil, err
	}
	for _, item := range orphans {
		if now.Sub(item.StatusChangedAt) < grace {
			report.Pending = append(report.Pending, item.ID)
			continue
		}
		released, err := store.ReleaseOrphanedItem(ctx, m.DB, item.ID, item.StatusChangedAt)
		if err != nil {
			return report, err
		}
		if released {
			report.Released = append(report.Released, item.ID)
			slog.Warn("released orphaned item", "item_id", item.ID, "loaned_since", item.StatusChangedAt)
		}
	}

	dangling, err := store.ListActiveLoansWithoutLoanedItem(ctx, m.DB)
	if err != nil {
		return report, err
	}
	for _, l := range dangling {
		report.DanglingLoans = append(report.DanglingLoans, l.ID)
		slog.Error("active loan without loaned item", "loan_id", l.ID, "item_id", l.ItemID)
	}

	if n := len(report.Released); n > 0 {
		m.Metrics.Healed(n)
		m.Cache.Invalidate(ctx, cache.Items)
	}
	return report, nil
}
