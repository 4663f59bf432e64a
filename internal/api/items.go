package api

import (
	"io"
	"net/http"

	"github.com/acervoteatro/acervo/internal/ledger"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

// maxImageSize bounds uploaded images before processing.
const maxImageSize = 10 << 20

// ItemsHandler handles item and category endpoints.
type ItemsHandler struct {
	Ledger *ledger.Service
}

type createCategoryRequest struct {
	Name string `json:"name"`
}

// List handles GET /api/items?q=&category_id=&status=.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.ItemStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	items, err := h.Ledger.ListItems(r.Context(), store.ItemFilter{
		Search:     q.Get("q"),
		CategoryID: q.Get("category_id"),
		Status:     status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ledger.ItemInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Ledger.CreateItem(r.Context(), GetProfile(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

// SuggestCode handles GET /api/items/code.
func (h *ItemsHandler) SuggestCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.Ledger.SuggestCode(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"code": code})
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.Ledger.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req ledger.ItemPatch
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Ledger.UpdateItem(r.Context(), GetProfile(r.Context()), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteItem(r.Context(), GetProfile(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadImage handles PUT /api/items/{id}/image with a multipart "image" file.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)

	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	item, err := h.Ledger.SetItemImage(r.Context(), GetProfile(r.Context()), r.PathValue("id"), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// ListCategories handles GET /api/categories.
func (h *ItemsHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Ledger.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	jsonResponse(w, http.StatusOK, categories)
}

// CreateCategory handles POST /api/categories.
func (h *ItemsHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.Ledger.CreateCategory(r.Context(), GetProfile(r.Context()), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, c)
}

// DeleteCategory handles DELETE /api/categories/{id}.
func (h *ItemsHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteCategory(r.Context(), GetProfile(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "category deleted"})
}
