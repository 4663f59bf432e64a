package model

import "time"

// LoanStatus only ever moves from active to completed.
type LoanStatus string

// Loan statuses.
const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
)

// Valid reports whether s is a known loan status.
func (s LoanStatus) Valid() bool {
	return s == LoanStatusActive || s == LoanStatusCompleted
}

// Loan records an item lent to a borrower.
// ItemName is a snapshot taken at borrow time and is never updated.
type Loan struct {
	ID               string     `json:"id"`
	ItemID           string     `json:"item_id"`
	ItemName         string     `json:"item_name"`
	BorrowerName     string     `json:"borrower_name"`
	Ministry         string     `json:"ministry"`
	Reason           string     `json:"reason,omitempty"`
	LoanDate         time.Time  `json:"loan_date"`
	DueDate          time.Time  `json:"due_date"`
	ReturnDate       *time.Time `json:"return_date,omitempty"`
	ReturnCondition  Condition  `json:"return_condition,omitempty"`
	Consent          bool       `json:"consent"`
	BorrowerPhotoURL string     `json:"borrower_photo_url"`
	SignatureURL     string     `json:"signature_url"`
	CreatedBy        string     `json:"created_by,omitempty"`
	Status           LoanStatus `json:"status"`
}

// Overdue reports whether an active loan is past its due date at now.
// Due dates are whole days, so a loan due today is not overdue until tomorrow.
func (l *Loan) Overdue(now time.Time) bool {
	if l.Status != LoanStatusActive {
		return false
	}
	return now.After(l.DueDate.AddDate(0, 0, 1))
}
