package lending

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

type stubUploader struct {
	calls atomic.Int32
	err   error
}

func (u *stubUploader) Upload(_ context.Context, _ []byte, folder string) (string, error) {
	u.calls.Add(1)
	if u.err != nil {
		return "", u.err
	}
	return "https://img/" + folder, nil
}

var borrower = &model.Profile{UserID: "user-1", Role: model.RoleUser}

func newTestManager(t *testing.T) (*Manager, *stubUploader) {
	t.Helper()
	return newTestManagerOn(db.NewTestDB(t))
}

// newFileTestManager uses a pooled file database so that concurrent calls
// overlap.
func newFileTestManager(t *testing.T) (*Manager, *stubUploader) {
	t.Helper()
	return newTestManagerOn(db.NewTestFileDB(t))
}

func newTestManagerOn(database *db.DB) (*Manager, *stubUploader) {
	up := &stubUploader{}
	return &Manager{
		DB:            database,
		Uploader:      up,
		ReturnBackoff: time.Millisecond,
	}, up
}

func newItem(t *testing.T, m *Manager, name string) *model.Item {
	t.Helper()
	item, err := store.CreateItem(context.Background(), m.DB, model.Item{
		Name: name, Code: "REF-" + name, Quantity: 1, Condition: model.ConditionGood,
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}

func validDetails(name string) LoanDetails {
	return LoanDetails{
		BorrowerName: name,
		DueDate:      "2025-01-10",
		Ministry:     "Teatro",
		Consent:      true,
		Photo:        []byte("photo"),
		Signature:    []byte("signature"),
	}
}

// assertInvariant checks that every item is loaned iff it has exactly one
// active loan.
func assertInvariant(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	items, err := store.ListItems(ctx, m.DB, store.ItemFilter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	for _, item := range items {
		active, err := store.ListLoans(ctx, m.DB, store.LoanFilter{ItemID: item.ID, Status: model.LoanStatusActive})
		if err != nil {
			t.Fatalf("ListLoans: %v", err)
		}
		loaned := item.Status == model.ItemStatusLoaned
		if loaned != (len(active) == 1) || len(active) > 1 {
			t.Errorf("item %s: status %q with %d active loans", item.Name, item.Status, len(active))
		}
	}
}

func TestBorrowAndReturnDamaged(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")

	loan, err := m.Borrow(ctx, borrower, a.ID, validDetails("X"))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if loan.Status != model.LoanStatusActive {
		t.Errorf("expected status 'active', got %q", loan.Status)
	}
	if loan.ItemName != "A" || loan.Ministry != "Teatro" || loan.CreatedBy != borrower.UserID {
		t.Errorf("unexpected loan: %+v", loan)
	}
	if loan.BorrowerPhotoURL != "https://img/photos" || loan.SignatureURL != "https://img/signatures" {
		t.Errorf("unexpected upload URLs: %q, %q", loan.BorrowerPhotoURL, loan.SignatureURL)
	}
	if got := loan.DueDate.Format(time.DateOnly); got != "2025-01-10" {
		t.Errorf("expected due date 2025-01-10, got %s", got)
	}

	item, _ := store.GetItem(ctx, m.DB, a.ID)
	if item.Status != model.ItemStatusLoaned {
		t.Errorf("expected item loaned, got %q", item.Status)
	}
	assertInvariant(t, m)

	returned, err := m.Return(ctx, borrower, loan.ID, ReturnDetails{Condition: "Danificado", Observations: "manga rasgada"})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if returned.Status != model.LoanStatusCompleted || returned.ReturnDate == nil {
		t.Errorf("unexpected returned loan: %+v", returned)
	}

	item, _ = store.GetItem(ctx, m.DB, a.ID)
	if item.Status != model.ItemStatusAvailable {
		t.Errorf("expected item available, got %q", item.Status)
	}
	if item.Condition != model.ConditionDamaged {
		t.Errorf("expected condition 'damaged', got %q", item.Condition)
	}
	if item.Observations != "manga rasgada" {
		t.Errorf("expected observations recorded, got %q", item.Observations)
	}

	stored, _ := store.GetLoan(ctx, m.DB, loan.ID)
	if stored.Status != model.LoanStatusCompleted || stored.ReturnDate == nil || stored.ReturnCondition != model.ConditionDamaged {
		t.Errorf("unexpected stored loan: %+v", stored)
	}
	assertInvariant(t, m)
}

func TestItemNameSnapshot(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")

	loan, _ := m.Borrow(ctx, borrower, a.ID, validDetails("X"))
	store.Update(ctx, m.DB, store.Items, a.ID, store.Set("name", "Renamed"))

	got, _ := m.GetLoan(ctx, loan.ID)
	if got.ItemName != "A" {
		t.Errorf("expected snapshot 'A', got %q", got.ItemName)
	}
}

func TestBorrowRace(t *testing.T) {
	m, _ := newFileTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")

	const callers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Borrow(ctx, borrower, a.ID, validDetails(string(rune('A'+i))))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, model.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successes.Load())
	}
	if conflicts.Load() != callers-1 {
		t.Errorf("expected %d conflicts, got %d", callers-1, conflicts.Load())
	}
	loans, _ := store.ListLoans(ctx, m.DB, store.LoanFilter{ItemID: a.ID})
	if len(loans) != 1 {
		t.Errorf("expected exactly 1 loan, got %d", len(loans))
	}
	assertInvariant(t, m)
}

func TestDoubleReturn(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")
	loan, _ := m.Borrow(ctx, borrower, a.ID, validDetails("X"))

	if _, err := m.Return(ctx, borrower, loan.ID, ReturnDetails{Condition: "Bom"}); err != nil {
		t.Fatalf("first Return: %v", err)
	}
	before, _ := store.GetItem(ctx, m.DB, a.ID)

	_, err := m.Return(ctx, borrower, loan.ID, ReturnDetails{Condition: "Danificado", Observations: "again"})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict on second return, got %v", err)
	}

	after, _ := store.GetItem(ctx, m.DB, a.ID)
	if after.Status != before.Status || after.Condition != before.Condition ||
		after.Observations != before.Observations || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("expected item unchanged by second return:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestConcurrentReturn(t *testing.T) {
	m, _ := newFileTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")
	loan, _ := m.Borrow(ctx, borrower, a.ID, validDetails("X"))

	var wg sync.WaitGroup
	var successes, conflicts atomic.Int32
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Return(ctx, borrower, loan.ID, ReturnDetails{Condition: "good"})
			if err == nil {
				successes.Add(1)
			} else if errors.Is(err, model.ErrConflict) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 || conflicts.Load() != 1 {
		t.Errorf("expected 1 success and 1 conflict, got %d and %d", successes.Load(), conflicts.Load())
	}
}

func TestBorrowValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(d *LoanDetails)
		want   []string
	}{
		{"no consent", func(d *LoanDetails) { d.Consent = false }, []string{"consent"}},
		{"blank name", func(d *LoanDetails) { d.BorrowerName = "   " }, []string{"borrower_name"}},
		{"bad due date", func(d *LoanDetails) { d.DueDate = "10/01/2025" }, []string{"due_date"}},
		{"missing photo", func(d *LoanDetails) { d.Photo = []byte{} }, []string{"photo"}},
		{"other ministry", func(d *LoanDetails) { d.Ministry = MinistryOther }, []string{"other_ministry"}},
		{"everything", func(d *LoanDetails) { *d = LoanDetails{} },
			[]string{"borrower_name", "due_date", "ministry", "consent", "photo", "signature"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, up := newTestManager(t)
			a := newItem(t, m, "A")
			d := validDetails("X")
			tt.modify(&d)

			_, err := m.Borrow(context.Background(), borrower, a.ID, d)
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !slices.Equal(verr.Fields, tt.want) {
				t.Errorf("expected fields %v, got %v", tt.want, verr.Fields)
			}

			// Nothing mutated, nothing uploaded.
			if up.calls.Load() != 0 {
				t.Errorf("expected no uploads, got %d", up.calls.Load())
			}
			item, _ := store.GetItem(context.Background(), m.DB, a.ID)
			if item.Status != model.ItemStatusAvailable {
				t.Errorf("expected item available, got %q", item.Status)
			}
			loans, _ := store.ListLoans(context.Background(), m.DB, store.LoanFilter{})
			if len(loans) != 0 {
				t.Errorf("expected no loans, got %d", len(loans))
			}
		})
	}
}

func TestBorrowOtherMinistry(t *testing.T) {
	m, _ := newTestManager(t)
	a := newItem(t, m, "A")
	d := validDetails("X")
	d.Ministry = MinistryOther
	d.OtherMinistry = "Coral infantil"

	loan, err := m.Borrow(context.Background(), borrower, a.ID, d)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if loan.Ministry != "Coral infantil" {
		t.Errorf("expected ministry 'Coral infantil', got %q", loan.Ministry)
	}
}

func TestBorrowErrors(t *testing.T) {
	m, up := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")

	if _, err := m.Borrow(ctx, nil, a.ID, validDetails("X")); !errors.Is(err, model.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := m.Borrow(ctx, borrower, "missing", validDetails("X")); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	up.err = errors.New("bucket unreachable")
	_, err := m.Borrow(ctx, borrower, a.ID, validDetails("X"))
	var uerr *model.UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	item, _ := store.GetItem(ctx, m.DB, a.ID)
	if item.Status != model.ItemStatusAvailable {
		t.Errorf("expected item available after upload failure, got %q", item.Status)
	}
}

func TestBorrowCancelledBeforeWrite(t *testing.T) {
	m, _ := newTestManager(t)
	a := newItem(t, m, "A")

	ctx, cancel := context.WithCancel(context.Background())
	m.Uploader = uploaderFunc(func(context.Context, []byte, string) (string, error) {
		cancel()
		return "u", nil
	})

	if _, err := m.Borrow(ctx, borrower, a.ID, validDetails("X")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	item, _ := store.GetItem(context.Background(), m.DB, a.ID)
	if item.Status != model.ItemStatusAvailable {
		t.Errorf("expected no trace of cancelled borrow, got status %q", item.Status)
	}
}

type uploaderFunc func(context.Context, []byte, string) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, data []byte, folder string) (string, error) {
	return f(ctx, data, folder)
}

func TestBorrowCompensatesFailedLoanInsert(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")

	m.insertLoan = func(context.Context, *db.DB, model.Loan) (*model.Loan, error) {
		return nil, errors.New("connection reset")
	}

	_, err := m.Borrow(ctx, borrower, a.ID, validDetails("X"))
	if !errors.Is(err, model.ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}

	item, _ := store.GetItem(ctx, m.DB, a.ID)
	if item.Status != model.ItemStatusAvailable {
		t.Errorf("expected item reverted to available, got %q", item.Status)
	}
	assertInvariant(t, m)

	// The item can be borrowed again normally.
	m.insertLoan = nil
	if _, err := m.Borrow(ctx, borrower, a.ID, validDetails("Y")); err != nil {
		t.Errorf("expected borrow after compensation to succeed, got %v", err)
	}
}

func TestReturnErrors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")
	loan, _ := m.Borrow(ctx, borrower, a.ID, validDetails("X"))

	tests := []struct {
		name    string
		actor   *model.Profile
		loanID  string
		details ReturnDetails
		check   func(error) bool
	}{
		{"no actor", nil, loan.ID, ReturnDetails{Condition: "good"},
			func(err error) bool { return errors.Is(err, model.ErrPermissionDenied) }},
		{"bad condition", borrower, loan.ID, ReturnDetails{Condition: "sumido"},
			func(err error) bool {
				var v *model.ValidationError
				return errors.As(err, &v)
			}},
		{"missing loan", borrower, "missing", ReturnDetails{Condition: "good"},
			func(err error) bool { return errors.Is(err, model.ErrNotFound) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Return(ctx, tt.actor, tt.loanID, tt.details)
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	got, _ := m.GetLoan(ctx, loan.ID)
	if got.Status != model.LoanStatusActive {
		t.Errorf("expected loan still active, got %q", got.Status)
	}
}

func TestOverdue(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")
	b := newItem(t, m, "B")

	late := validDetails("X")
	late.DueDate = "2025-01-10"
	m.Borrow(ctx, borrower, a.ID, late)

	dueToday := validDetails("Y")
	dueToday.DueDate = "2025-01-20"
	m.Borrow(ctx, borrower, b.ID, dueToday)

	now := time.Date(2025, 1, 20, 15, 0, 0, 0, time.UTC)
	overdue, err := m.Overdue(ctx, now)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ItemID != a.ID {
		t.Errorf("expected only item A overdue, got %+v", overdue)
	}
}

func TestListLoans(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a := newItem(t, m, "A")
	loan, _ := m.Borrow(ctx, borrower, a.ID, validDetails("X"))
	m.Return(ctx, borrower, loan.ID, ReturnDetails{Condition: "good"})
	m.Borrow(ctx, borrower, a.ID, validDetails("Y"))

	all, err := m.ListLoans(ctx, store.LoanFilter{ItemID: a.ID})
	if err != nil {
		t.Fatalf("ListLoans: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 loans, got %d", len(all))
	}
	active, _ := m.ListLoans(ctx, store.LoanFilter{Status: model.LoanStatusActive})
	if len(active) != 1 || active[0].BorrowerName != "Y" {
		t.Errorf("expected Y's loan active, got %+v", active)
	}
}
