package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/acervoteatro/acervo/internal/export"
	"github.com/acervoteatro/acervo/internal/lending"
	"github.com/acervoteatro/acervo/internal/model"
)

// AdminHandler handles maintenance and export endpoints.
type AdminHandler struct {
	Lending  *lending.Manager
	Exporter *export.Exporter
	Grace    time.Duration
}

// Reconcile handles POST /api/reconcile, running a pass immediately.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !model.CapabilitiesOf(GetProfile(r.Context())).CanAdminister {
		writeError(w, r, model.ErrPermissionDenied)
		return
	}

	grace := h.Grace
	if grace <= 0 {
		grace = lending.DefaultGrace
	}
	report, err := h.Lending.Reconcile(r.Context(), grace)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, report)
}

// Backup handles GET /api/export/backup.
func (h *AdminHandler) Backup(w http.ResponseWriter, r *http.Request) {
	// Buffer so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.Exporter.WriteBackup(r.Context(), GetProfile(r.Context()), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	attachment(w, "application/json", "backup-%s.json")
	buf.WriteTo(w)
}

// LoanReport handles GET /api/export/loans.xlsx.
func (h *AdminHandler) LoanReport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.Exporter.WriteLoanReport(r.Context(), GetProfile(r.Context()), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "emprestimos-%s.xlsx")
	buf.WriteTo(w)
}

func attachment(w http.ResponseWriter, contentType, nameFormat string) {
	name := fmt.Sprintf(nameFormat, time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
}
