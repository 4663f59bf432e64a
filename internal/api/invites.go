package api

import (
	"net/http"

	"github.com/acervoteatro/acervo/internal/access"
	"github.com/acervoteatro/acervo/internal/model"
)

// InvitesHandler handles invite endpoints.
type InvitesHandler struct {
	Access *access.Controller
}

// Validate handles GET /api/invites/{code}/validate. It is public so the
// sign-up form can check a code before an account exists.
func (h *InvitesHandler) Validate(w http.ResponseWriter, r *http.Request) {
	check, err := h.Access.ValidateInvite(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, check)
}

// List handles GET /api/invites.
func (h *InvitesHandler) List(w http.ResponseWriter, r *http.Request) {
	invites, err := h.Access.ListInvites(r.Context(), GetProfile(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invites == nil {
		invites = []model.Invite{}
	}
	jsonResponse(w, http.StatusOK, invites)
}

// Create handles POST /api/invites.
func (h *InvitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req access.InviteInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	invite, err := h.Access.CreateInvite(r.Context(), GetProfile(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, invite)
}

// Revoke handles DELETE /api/invites/{id}.
func (h *InvitesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.Access.RevokeInvite(r.Context(), GetProfile(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "invite revoked"})
}
