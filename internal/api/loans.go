package api

import (
	"net/http"
	"time"

	"github.com/acervoteatro/acervo/internal/lending"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

// maxBorrowBody bounds a borrow request carrying two base64 images.
const maxBorrowBody = 2 * maxImageSize

// LoansHandler handles borrow, return and loan listing endpoints.
type LoansHandler struct {
	Lending *lending.Manager
}

// Borrow handles POST /api/items/{id}/borrow. Photo and signature are sent
// as base64 strings in the JSON body.
func (h *LoansHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBorrowBody)

	var req lending.LoanDetails
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	loan, err := h.Lending.Borrow(r.Context(), GetProfile(r.Context()), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, loan)
}

// Return handles POST /api/loans/{id}/return.
func (h *LoansHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req lending.ReturnDetails
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	loan, err := h.Lending.Return(r.Context(), GetProfile(r.Context()), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, loan)
}

// List handles GET /api/loans?status=&item_id=.
func (h *LoansHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.LoanStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	loans, err := h.Lending.ListLoans(r.Context(), store.LoanFilter{Status: status, ItemID: q.Get("item_id")})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	jsonResponse(w, http.StatusOK, loans)
}

// Overdue handles GET /api/loans/overdue.
func (h *LoansHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Lending.Overdue(r.Context(), time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	jsonResponse(w, http.StatusOK, loans)
}

// Get handles GET /api/loans/{id}.
func (h *LoansHandler) Get(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Lending.GetLoan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, loan)
}
