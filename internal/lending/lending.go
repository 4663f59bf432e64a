// Package lending is the borrow and return state machine. Every race is
// settled by a single conditional write: the item on borrow and the loan on
// return. The second record of each pair is derived and safe to rewrite.
package lending

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/acervoteatro/acervo/internal/cache"
	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/media"
	"github.com/acervoteatro/acervo/internal/metrics"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

// Uploader stores an image and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, folder string) (string, error)
}

// Defaults for the return path's item write.
const (
	DefaultReturnAttempts = 5
	DefaultReturnBackoff  = 200 * time.Millisecond
)

// Manager implements borrow, return and reconciliation.
type Manager struct {
	DB       *db.DB
	Uploader Uploader
	Cache    *cache.Cache
	Metrics  *metrics.Metrics

	// ReturnAttempts and ReturnBackoff bound the retry of the item write
	// after a loan was completed. Zero values use the defaults.
	ReturnAttempts int
	ReturnBackoff  time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	// insertLoan creates the loan row; nil means store.CreateLoan.
	insertLoan func(ctx context.Context, database *db.DB, loan model.Loan) (*model.Loan, error)
	// updateItem writes the item side of a return; nil means
	// store.ConditionalUpdate.
	updateItem func(ctx context.Context, database *db.DB, table store.Table, key string, expected store.Predicate, patch ...store.Assignment) (bool, error)
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Borrow lends an available item. Uploads happen before any write, so an
// upload failure or a cancellation before the item transition leaves no
// trace. Losing the race for the item returns ErrConflict.
func (m *Manager) Borrow(ctx context.Context, actor *model.Profile, itemID string, details LoanDetails) (*model.Loan, error) {
	details = details.normalize()
	if err := details.Validate(); err != nil {
		return nil, err
	}
	if !model.CapabilitiesOf(actor).CanBorrow {
		return nil, model.ErrPermissionDenied
	}
	due, err := details.dueDate()
	if err != nil {
		return nil, &model.ValidationError{Fields: []string{"due_date"}}
	}

	// Advisory read: skips uploads for items that are gone or already out.
	item, err := store.GetItem(ctx, m.DB, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.ErrNotFound
	}
	if item.Status != model.ItemStatusAvailable {
		m.Metrics.Conflict("borrow")
		return nil, fmt.Errorf("item %s is %s: %w", itemID, item.Status, model.ErrConflict)
	}

	photoURL, err := m.Uploader.Upload(ctx, details.Photo, media.FolderPhotos)
	if err != nil {
		return nil, &model.UploadError{Err: err}
	}
	signatureURL, err := m.Uploader.Upload(ctx, details.Signature, media.FolderSignatures)
	if err != nil {
		return nil, &model.UploadError{Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Past this point the operation runs to completion or compensates.
	ctx = context.WithoutCancel(ctx)

	changedAt := db.Timestamp(m.now())
	ok, err := store.ConditionalUpdate(ctx, m.DB, store.Items, itemID,
		store.Eq("status", model.ItemStatusAvailable),
		store.Set("status", model.ItemStatusLoaned),
		store.Set("status_changed_at", changedAt),
		store.Set("updated_at", changedAt),
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.borrowLost(ctx, itemID)
	}

	insert := m.insertLoan
	if insert == nil {
		insert = store.CreateLoan
	}
	loan, err := insert(ctx, m.DB, model.Loan{
		ItemID:           itemID,
		ItemName:         item.Name,
		BorrowerName:     details.BorrowerName,
		Ministry:         details.ministry(),
		Reason:           details.Reason,
		LoanDate:         changedAt,
		DueDate:          due,
		Consent:          details.Consent,
		BorrowerPhotoURL: photoURL,
		SignatureURL:     signatureURL,
		CreatedBy:        actor.UserID,
	})
	if err != nil {
		m.compensate(ctx, itemID, changedAt, err)
		m.Cache.Invalidate(ctx, cache.Items)
		return nil, fmt.Errorf("borrowing item %s: %w: %w", itemID, model.ErrInconsistentState, err)
	}

	m.Metrics.Borrowed()
	m.Cache.Invalidate(ctx, cache.Items, cache.Loans)
	slog.Info("item borrowed", "item_id", itemID, "loan_id", loan.ID, "borrower", loan.BorrowerName, "by", actor.UserID)
	return loan, nil
}

// borrowLost explains a failed item transition.
func (m *Manager) borrowLost(ctx context.Context, itemID string) error {
	item, err := store.GetItem(ctx, m.DB, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return model.ErrNotFound
	}
	m.Metrics.Conflict("borrow")
	return fmt.Errorf("item %s was borrowed concurrently: %w", itemID, model.ErrConflict)
}

// compensate reverts an item flipped by Borrow whose loan could not be
// created. The revert is itself conditional, so it never undoes a later
// borrow; anything it cannot fix is left to Reconcile.
func (m *Manager) compensate(ctx context.Context, itemID string, changedAt time.Time, cause error) {
	reverted, err := store.ReleaseOrphanedItem(ctx, m.DB, itemID, changedAt)
	switch {
	case err != nil:
		m.Metrics.Compensated("failed")
		slog.Error("borrow compensation failed", "item_id", itemID, "cause", cause, "error", err)
	case reverted:
		m.Metrics.Compensated("reverted")
		slog.Warn("borrow compensated", "item_id", itemID, "cause", cause)
	default:
		m.Metrics.Compensated("skipped")
		slog.Warn("borrow compensation skipped, item no longer orphaned", "item_id", itemID, "cause", cause)
	}
}

// Return completes an active loan and makes its item available again with
// the returned condition. A second return of the same loan fails with
// ErrConflict and leaves the item untouched.
func (m *Manager) Return(ctx context.Context, actor *model.Profile, loanID string, details ReturnDetails) (*model.Loan, error) {
	if !model.CapabilitiesOf(actor).CanBorrow {
		return nil, model.ErrPermissionDenied
	}
	condition, ok := model.ParseCondition(details.Condition)
	if !ok {
		return nil, &model.ValidationError{Fields: []string{"condition"}}
	}

	loan, err := store.GetLoan(ctx, m.DB, loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, model.ErrNotFound
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	returnedAt := db.Timestamp(m.now())
	ok, err = store.CompleteLoan(ctx, m.DB, loanID, condition, returnedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.Metrics.Conflict("return")
		return nil, fmt.Errorf("loan %s is not active: %w", loanID, model.ErrConflict)
	}

	if err := m.releaseItem(ctx, loan.ItemID, condition, details.Observations, returnedAt); err != nil {
		m.Cache.Invalidate(ctx, cache.Items, cache.Loans)
		return nil, fmt.Errorf("returning loan %s: %w: %w", loanID, model.ErrInconsistentState, err)
	}

	m.Metrics.Returned()
	m.Cache.Invalidate(ctx, cache.Items, cache.Loans)
	slog.Info("item returned", "item_id", loan.ItemID, "loan_id", loanID, "condition", condition, "by", actor.UserID)

	loan.Status = model.LoanStatusCompleted
	loan.ReturnDate = &returnedAt
	loan.ReturnCondition = condition
	return loan, nil
}

// releaseItem writes the item side of a return. The write only applies
// while the item is loaned without an active loan, so a retry never undoes a
// borrow that happened after an earlier attempt landed. It is idempotent and
// retried with the same arguments.
func (m *Manager) releaseItem(ctx context.Context, itemID string, condition model.Condition, observations string, at time.Time) error {
	sets := []store.Assignment{
		store.Set("status", model.ItemStatusAvailable),
		store.Set("condition", condition),
		store.Set("status_changed_at", at),
		store.Set("updated_at", at),
	}
	if obs := strings.TrimSpace(observations); obs != "" {
		sets = append(sets, store.Set("observations", obs))
	}
	expected := store.And(store.Eq("status", model.ItemStatusLoaned), store.NoActiveLoan)

	update := m.updateItem
	if update == nil {
		update = store.ConditionalUpdate
	}
	attempts := m.ReturnAttempts
	if attempts <= 0 {
		attempts = DefaultReturnAttempts
	}
	backoff := m.ReturnBackoff
	if backoff <= 0 {
		backoff = DefaultReturnBackoff
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var released bool
		released, err = update(ctx, m.DB, store.Items, itemID, expected, sets...)
		if err == nil {
			if !released {
				slog.Warn("returned item not released, no longer loaned or loaned again", "item_id", itemID)
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		m.Metrics.ReturnRetried()
		slog.Warn("item write after return failed, retrying", "item_id", itemID, "attempt", attempt, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}
	slog.Error("item write after return gave up", "item_id", itemID, "attempts", attempts, "error", err)
	return err
}

// GetLoan returns a loan or ErrNotFound.
func (m *Manager) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	loan, err := store.GetLoan(ctx, m.DB, id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, model.ErrNotFound
	}
	return loan, nil
}

// ListLoans returns the loans matching f, newest first.
func (m *Manager) ListLoans(ctx context.Context, f store.LoanFilter) ([]model.Loan, error) {
	key := string(f.Status) + "|" + f.ItemID
	return cache.Fetch(ctx, m.Cache, cache.Loans, key, func() ([]model.Loan, error) {
		return store.ListLoans(ctx, m.DB, f)
	})
}

// Overdue returns the active loans that are overdue at now.
func (m *Manager) Overdue(ctx context.Context, now time.Time) ([]model.Loan, error) {
	candidates, err := store.ListActiveLoansDueBefore(ctx, m.DB, now)
	if err != nil {
		return nil, err
	}
	var overdue []model.Loan
	for _, l := range candidates {
		if l.Overdue(now) {
			overdue = append(overdue, l)
		}
	}
	return overdue, nil
}
