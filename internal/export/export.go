// Package export produces administrator downloads: a full JSON backup and a
// spreadsheet report of loans.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

// LoanSheet is the worksheet name of the loan report.
const LoanSheet = "Empréstimos"

// Exporter reads the whole record store.
type Exporter struct {
	DB  *db.DB
	Now func() time.Time
}

// Backup is a point-in-time dump of the inventory.
type Backup struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Categories  []model.Category `json:"categories"`
	Items       []model.Item     `json:"items"`
	Loans       []model.Loan     `json:"loans"`
}

func (e *Exporter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func requireAdmin(actor *model.Profile) error {
	if !model.CapabilitiesOf(actor).CanAdminister {
		return model.ErrPermissionDenied
	}
	return nil
}

// Backup collects categories, items and loans.
func (e *Exporter) Backup(ctx context.Context, actor *model.Profile) (*Backup, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	categories, err := store.ListCategories(ctx, e.DB)
	if err != nil {
		return nil, err
	}
	items, err := store.ListItems(ctx, e.DB, store.ItemFilter{})
	if err != nil {
		return nil, err
	}
	loans, err := store.ListLoans(ctx, e.DB, store.LoanFilter{})
	if err != nil {
		return nil, err
	}

	b := &Backup{
		GeneratedAt: db.Timestamp(e.now()),
		Categories:  categories,
		Items:       items,
		Loans:       loans,
	}
	if b.Categories == nil {
		b.Categories = []model.Category{}
	}
	if b.Items == nil {
		b.Items = []model.Item{}
	}
	if b.Loans == nil {
		b.Loans = []model.Loan{}
	}
	return b, nil
}

// WriteBackup writes the backup as indented JSON.
func (e *Exporter) WriteBackup(ctx context.Context, actor *model.Profile, w io.Writer) error {
	b, err := e.Backup(ctx, actor)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encoding backup: %w", err)
	}
	return nil
}

var loanHeadings = []string{
	"Item", "Responsável", "Ministério", "Motivo", "Empréstimo", "Previsão",
	"Devolução", "Condição", "Estado", "Atrasado",
}

// WriteLoanReport writes every loan as one row of an XLSX workbook.
func (e *Exporter) WriteLoanReport(ctx context.Context, actor *model.Profile, w io.Writer) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	loans, err := store.ListLoans(ctx, e.DB, store.LoanFilter{})
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", LoanSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}

	for i, h := range loanHeadings {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(LoanSheet, cell, h); err != nil {
			return fmt.Errorf("writing heading: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(loanHeadings), 1)
	if err := f.SetCellStyle(LoanSheet, "A1", last, bold); err != nil {
		return fmt.Errorf("styling headings: %w", err)
	}

	now := e.now()
	for i, l := range loans {
		returned := ""
		if l.ReturnDate != nil {
			returned = l.ReturnDate.Format("2006-01-02")
		}
		overdue := "Não"
		if l.Overdue(now) {
			overdue = "Sim"
		}
		row := []any{
			l.ItemName, l.BorrowerName, l.Ministry, l.Reason,
			l.LoanDate.Format("2006-01-02"), l.DueDate.Format("2006-01-02"),
			returned, string(l.ReturnCondition), string(l.Status), overdue,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(LoanSheet, cell, &row); err != nil {
			return fmt.Errorf("writing loan row: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
