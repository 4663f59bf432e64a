package model

import (
	"testing"
	"time"
)

func TestLoanOverdue(t *testing.T) {
	due := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status LoanStatus
		now    time.Time
		want   bool
	}{
		{"before due date", LoanStatusActive, due.Add(-time.Hour), false},
		{"on due date", LoanStatusActive, due.Add(20 * time.Hour), false},
		{"day after", LoanStatusActive, due.AddDate(0, 0, 1).Add(time.Minute), true},
		{"completed loans are never overdue", LoanStatusCompleted, due.AddDate(0, 1, 0), false},
	}

	for _, tt := range tests {
		l := Loan{Status: tt.status, DueDate: due}
		if got := l.Overdue(tt.now); got != tt.want {
			t.Errorf("%s: Overdue = %v, want %v", tt.name, got, tt.want)
		}
	}
}
