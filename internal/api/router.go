package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/acervoteatro/acervo/internal/access"
	"github.com/acervoteatro/acervo/internal/blob"
	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/export"
	"github.com/acervoteatro/acervo/internal/identity"
	"github.com/acervoteatro/acervo/internal/ledger"
	"github.com/acervoteatro/acervo/internal/lending"
	"github.com/acervoteatro/acervo/internal/metrics"
)

// Deps are the services the API is built on.
type Deps struct {
	DB       *db.DB
	Identity *identity.Provider
	Access   *access.Controller
	Ledger   *ledger.Service
	Lending  *lending.Manager
	Exporter *export.Exporter
	Metrics  *metrics.Metrics

	// Media, when set, is served under /media/. Only stores without their
	// own public endpoint need this.
	Media blob.Store

	// Grace is the reconciliation grace period used by POST /api/reconcile.
	Grace time.Duration
}

// NewRouter creates the HTTP router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{Identity: d.Identity, Access: d.Access}
	invitesHandler := &InvitesHandler{Access: d.Access}
	profilesHandler := &ProfilesHandler{Access: d.Access}
	itemsHandler := &ItemsHandler{Ledger: d.Ledger}
	loansHandler := &LoansHandler{Lending: d.Lending}
	adminHandler := &AdminHandler{Lending: d.Lending, Exporter: d.Exporter, Grace: d.Grace}

	authMW := AuthMiddleware(d.Identity, d.Access)
	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }

	// Public.
	mux.HandleFunc("POST /api/auth/signup", authHandler.Signup)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/invites/{code}/validate", invitesHandler.Validate)

	// Session.
	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))
	mux.Handle("GET /api/auth/me", authed(authHandler.Me))
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))

	// Categories and items: read for everyone signed in, write for editors.
	mux.Handle("GET /api/categories", authed(itemsHandler.ListCategories))
	mux.Handle("POST /api/categories", authed(itemsHandler.CreateCategory))
	mux.Handle("DELETE /api/categories/{id}", authed(itemsHandler.DeleteCategory))
	mux.Handle("GET /api/items", authed(itemsHandler.List))
	mux.Handle("POST /api/items", authed(itemsHandler.Create))
	mux.Handle("GET /api/items/code", authed(itemsHandler.SuggestCode))
	mux.Handle("GET /api/items/{id}", authed(itemsHandler.Get))
	mux.Handle("PUT /api/items/{id}", authed(itemsHandler.Update))
	mux.Handle("DELETE /api/items/{id}", authed(itemsHandler.Delete))
	mux.Handle("PUT /api/items/{id}/image", authed(itemsHandler.UploadImage))

	// Lending.
	mux.Handle("POST /api/items/{id}/borrow", authed(loansHandler.Borrow))
	mux.Handle("GET /api/loans", authed(loansHandler.List))
	mux.Handle("GET /api/loans/overdue", authed(loansHandler.Overdue))
	mux.Handle("GET /api/loans/{id}", authed(loansHandler.Get))
	mux.Handle("POST /api/loans/{id}/return", authed(loansHandler.Return))

	// Administration. The services check the role themselves.
	mux.Handle("GET /api/invites", authed(invitesHandler.List))
	mux.Handle("POST /api/invites", authed(invitesHandler.Create))
	mux.Handle("DELETE /api/invites/{id}", authed(invitesHandler.Revoke))
	mux.Handle("GET /api/profiles", authed(profilesHandler.List))
	mux.Handle("PUT /api/profiles/{id}", authed(profilesHandler.Update))
	mux.Handle("POST /api/reconcile", authed(adminHandler.Reconcile))
	mux.Handle("GET /api/export/backup", authed(adminHandler.Backup))
	mux.Handle("GET /api/export/loans.xlsx", authed(adminHandler.LoanReport))

	if d.Media != nil {
		mux.Handle("GET /media/{key...}", mediaHandler(d.Media))
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", healthHandler(d.DB))

	return mux
}

// mediaHandler streams stored images by key.
func mediaHandler(store blob.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, contentType, err := store.Get(r.Context(), r.PathValue("key"))
		if err != nil {
			if !errors.Is(err, blob.ErrNotFound) {
				slog.Warn("reading media", "key", r.PathValue("key"), "error", err)
			}
			http.NotFound(w, r)
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if _, err := io.Copy(w, body); err != nil {
			slog.Warn("streaming media", "key", r.PathValue("key"), "error", err)
		}
	})
}

func healthHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if database != nil {
			if err := database.PingContext(r.Context()); err != nil {
				jsonError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
