package api

import (
	"net/http"

	"github.com/acervoteatro/acervo/internal/access"
	"github.com/acervoteatro/acervo/internal/model"
)

// ProfilesHandler handles profile administration endpoints.
type ProfilesHandler struct {
	Access *access.Controller
}

// List handles GET /api/profiles.
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Access.ListProfiles(r.Context(), GetProfile(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []model.Profile{}
	}
	jsonResponse(w, http.StatusOK, profiles)
}

// Update handles PUT /api/profiles/{id}.
func (h *ProfilesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req access.PermissionPatch
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.Access.UpdatePermissions(r.Context(), GetProfile(r.Context()).UserID, r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, profile)
}
