package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

const loanColumns = `id, item_id, item_name, borrower_name, ministry, reason, loan_date, due_date,
	return_date, return_condition, consent, borrower_photo_url, signature_url, created_by, status`

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	Status model.LoanStatus
	ItemID string
}

// CreateLoan inserts a new active loan. The partial unique index on
// (item_id) WHERE status = 'active' rejects a second active loan.
func CreateLoan(ctx context.Context, db *db.DB, in model.Loan) (*model.Loan, error) {
	loan := in
	loan.ID = uuid.NewString()
	loan.Status = model.LoanStatusActive
	loan.LoanDate = dbTimestamp(loan.LoanDate)
	loan.DueDate = dbTimestamp(loan.DueDate)
	loan.ReturnDate = nil
	loan.ReturnCondition = ""

	_, err := db.ExecContext(ctx,
		`INSERT INTO loans (id, item_id, item_name, borrower_name, ministry, reason, loan_date, due_date,
		                    consent, borrower_photo_url, signature_url, created_by, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.ItemID, loan.ItemName, loan.BorrowerName, loan.Ministry, loan.Reason,
		loan.LoanDate, loan.DueDate, loan.Consent, loan.BorrowerPhotoURL, loan.SignatureURL,
		loan.CreatedBy, loan.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating loan: %w", err)
	}
	return &loan, nil
}

// GetLoan returns a loan by ID.
func GetLoan(ctx context.Context, db *db.DB, id string) (*model.Loan, error) {
	row := db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting loan: %w", err)
	}
	return loan, nil
}

// GetActiveLoanForItem returns the active loan of an item, if any.
func GetActiveLoanForItem(ctx context.Context, db *db.DB, itemID string) (*model.Loan, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE item_id = ? AND status = ?`,
		itemID, model.LoanStatusActive,
	)
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active loan: %w", err)
	}
	return loan, nil
}

// ListLoans returns loans, newest first.
func ListLoans(ctx context.Context, db *db.DB, f LoanFilter) ([]model.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, f.ItemID)
	}
	query += ` ORDER BY loan_date DESC, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// ListActiveLoansDueBefore returns active loans with a due date before t.
func ListActiveLoansDueBefore(ctx context.Context, db *db.DB, t time.Time) ([]model.Loan, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE status = ? AND due_date < ?
		 ORDER BY due_date, id`,
		model.LoanStatusActive, dbTimestamp(t),
	)
	if err != nil {
		return nil, fmt.Errorf("listing overdue loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// ListActiveLoansWithoutLoanedItem returns active loans whose item is
// missing or not marked loaned.
func ListActiveLoansWithoutLoanedItem(ctx context.Context, db *db.DB) ([]model.Loan, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE status = ? AND NOT EXISTS (
		     SELECT 1 FROM items WHERE items.id = loans.item_id AND items.status = ?
		 )
		 ORDER BY loan_date`,
		model.LoanStatusActive, model.ItemStatusLoaned,
	)
	if err != nil {
		return nil, fmt.Errorf("listing dangling loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// CompleteLoan moves an active loan to completed. It reports false when the
// loan is not active (already returned, concurrently returned, or missing).
func CompleteLoan(ctx context.Context, db *db.DB, id string, condition model.Condition, returnedAt time.Time) (bool, error) {
	return ConditionalUpdate(ctx, db, Loans, id,
		Eq("status", model.LoanStatusActive),
		Set("status", model.LoanStatusCompleted),
		Set("return_date", dbTimestamp(returnedAt)),
		Set("return_condition", condition),
	)
}

func scanLoans(rows *sql.Rows) ([]model.Loan, error) {
	var loans []model.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning loan: %w", err)
		}
		loans = append(loans, *loan)
	}
	return loans, rows.Err()
}

func scanLoan(row rowScanner) (*model.Loan, error) {
	l := &model.Loan{}
	var returnCondition sql.NullString
	err := row.Scan(&l.ID, &l.ItemID, &l.ItemName, &l.BorrowerName, &l.Ministry, &l.Reason,
		&l.LoanDate, &l.DueDate, &l.ReturnDate, &returnCondition, &l.Consent,
		&l.BorrowerPhotoURL, &l.SignatureURL, &l.CreatedBy, &l.Status)
	if err != nil {
		return nil, err
	}
	l.ReturnCondition = model.Condition(returnCondition.String)
	return l, nil
}
