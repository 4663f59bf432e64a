package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/acervoteatro/acervo/internal/access"
	"github.com/acervoteatro/acervo/internal/identity"
	"github.com/acervoteatro/acervo/internal/model"
)

// AuthHandler handles sign-up, login and session endpoints.
type AuthHandler struct {
	Identity *identity.Provider
	Access   *access.Controller
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	InviteCode  string `json:"invite_code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token        string             `json:"token"`
	Profile      *model.Profile     `json:"profile"`
	Capabilities model.Capabilities `json:"capabilities"`
}

type meResponse struct {
	Session      *identity.Session  `json:"session"`
	Profile      *model.Profile     `json:"profile"`
	Capabilities model.Capabilities `json:"capabilities"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Signup handles POST /api/auth/signup. An invite code that can no longer
// be redeemed does not block the sign-up; the account gets default
// permissions instead.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.Identity.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.InviteCode != "" {
		_, err := h.Access.RedeemInvite(r.Context(), req.InviteCode, account.UserID)
		switch {
		case errors.Is(err, model.ErrInviteExhausted):
			slog.Warn("invite not redeemed at signup, using defaults", "user_id", account.UserID)
		case err != nil:
			// The account exists; the profile falls back to defaults.
			slog.Error("redeeming invite at signup", "user_id", account.UserID, "error", err)
		}
	}

	profile, err := h.Access.BootstrapProfile(r.Context(), account.UserID, account.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, _, err := h.Identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusCreated, sessionResponse{
		Token:        token,
		Profile:      profile,
		Capabilities: model.CapabilitiesOf(profile),
	})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "email and password required")
		return
	}

	token, account, err := h.Identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.Access.BootstrapProfile(r.Context(), account.UserID, account.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, sessionResponse{
		Token:        token,
		Profile:      profile,
		Capabilities: model.CapabilitiesOf(profile),
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Identity.Logout(r.Context(), GetSession(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile := GetProfile(r.Context())
	jsonResponse(w, http.StatusOK, meResponse{
		Session:      GetSession(r.Context()),
		Profile:      profile,
		Capabilities: model.CapabilitiesOf(profile),
	})
}

// ChangePassword handles PUT /api/auth/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		jsonError(w, http.StatusBadRequest, "current and new password required")
		return
	}

	session := GetSession(r.Context())
	if err := h.Identity.ChangePassword(r.Context(), session.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}
