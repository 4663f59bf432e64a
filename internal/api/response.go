package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/acervoteatro/acervo/internal/identity"
	"github.com/acervoteatro/acervo/internal/imaging"
	"github.com/acervoteatro/acervo/internal/model"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

type validationResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// writeError maps a domain error to its HTTP status. Anything unrecognised
// is logged and reported as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	var uerr *model.UploadError

	switch {
	case errors.As(err, &verr):
		jsonResponse(w, http.StatusBadRequest, validationResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, model.ErrInconsistentState):
		slog.Error("inconsistent state", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusInternalServerError, "operation partially applied, it will be repaired automatically")
	case errors.Is(err, imaging.ErrInvalidImage):
		jsonError(w, http.StatusBadRequest, "image must be a JPEG, PNG or WebP file")
	case errors.As(err, &uerr):
		slog.Error("image upload failed", "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusBadGateway, "image upload failed")
	case errors.Is(err, identity.ErrInvalidCredentials):
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, model.ErrPermissionDenied):
		jsonError(w, http.StatusForbidden, "insufficient permissions")
	case errors.Is(err, model.ErrNotFound):
		jsonError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrItemOnLoan):
		jsonError(w, http.StatusConflict, "item is on loan")
	case errors.Is(err, model.ErrConflict):
		jsonError(w, http.StatusConflict, "record was changed concurrently, reload and try again")
	case errors.Is(err, model.ErrInviteExhausted):
		jsonError(w, http.StatusGone, "invite is no longer valid")
	case errors.Is(err, model.ErrInvalidState):
		jsonError(w, http.StatusBadRequest, "invalid state transition")
	case errors.Is(err, model.ErrInvalidTarget):
		jsonError(w, http.StatusBadRequest, "invalid target")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		w.WriteHeader(499)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
