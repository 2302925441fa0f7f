// Package server composes the HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jules-labs/librarydesk/internal/auth"
	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/circulation"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/httpx"
	"github.com/jules-labs/librarydesk/internal/membership"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API exposes.
type Deps struct {
	Membership  membership.Service
	Catalog     catalog.Service
	Circulation circulation.Service
	Fines       fines.Service
	Tokens      *auth.Issuer
	Store       Pinger
	Logger      *slog.Logger
}

// NewRouter mounts every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	guard := auth.NewMiddleware(d.Tokens, d.Membership, d.Logger)
	users := membership.NewHandler(d.Membership, d.Tokens, d.Logger)
	books := catalog.NewHandler(d.Catalog, d.Logger)
	loans := circulation.NewHandler(d.Circulation, d.Logger)
	ledger := fines.NewHandler(d.Fines, d.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := d.Store.Ping(req.Context()); err != nil {
			d.Logger.ErrorContext(req.Context(), "health check failed", "error", err)
			httpx.WriteJSON(w, http.StatusServiceUnavailable, httpx.Message{Message: "database unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", users.HandleRegister)
			r.Post("/login", users.HandleLogin)
			r.With(guard.Authenticate).Get("/profile", users.HandleProfile)
			r.With(guard.Authenticate, guard.RequireAdmin).Get("/users", users.HandleListUsers)
		})

		r.Route("/books", func(r chi.Router) {
			r.Get("/", books.HandleListBooks)
			r.Get("/{id}", books.HandleGetBook)
			r.Group(func(r chi.Router) {
				r.Use(guard.Authenticate, guard.RequireAdmin)
				r.Post("/", books.HandleAddBook)
				r.Put("/{id}", books.HandleUpdateBook)
				r.Delete("/{id}", books.HandleRemoveBook)
			})
		})

		r.Route("/writers", func(r chi.Router) {
			r.Get("/", books.HandleListWriters)
			r.With(guard.Authenticate, guard.RequireAdmin).Post("/", books.HandleAddWriter)
		})

		r.Route("/loans", func(r chi.Router) {
			r.Use(guard.Authenticate)
			r.Post("/", loans.HandleOpen)
			r.Get("/", loans.HandleList)
			r.Get("/status/overdue", loans.HandleOverdue)
			r.With(guard.RequireAdmin).Post("/update-overdue", loans.HandleSweep)
			r.Get("/user/{userId}", loans.HandleByUser)
			r.Get("/{id}", loans.HandleGet)
			r.Get("/{id}/history", loans.HandleHistory)
			r.Patch("/{id}/return", loans.HandleReturn)
		})

		r.Route("/fines", func(r chi.Router) {
			r.Use(guard.Authenticate)
			r.Get("/", ledger.HandleList)
			r.With(guard.RequireAdmin).Get("/stats/summary", ledger.HandleSummary)
			r.With(guard.RequireAdmin).Get("/stats/pending-by-user", ledger.HandlePendingByUser)
			r.Get("/user/{userId}", ledger.HandleByUser)
			r.Get("/user/{userId}/pending-total", ledger.HandlePendingTotal)
			r.Get("/{id}", ledger.HandleGet)
			r.Patch("/{id}/pay", ledger.HandlePay)
		})
	})

	return r
}
