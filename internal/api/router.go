package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the directory routes. Everything under /api requires a
// verified caller identity; /health stays open for probes.
func NewRouter(handler *Handler, verifier *IdentityVerifier) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/api", func(r chi.Router) {
		r.Use(verifier.Middleware)

		r.Get("/data", handler.ListAllAccounts)
		r.Get("/printers", handler.ListPrinters)
		r.Get("/users", handler.ListUsers)

		r.Post("/accounts", handler.CreateAccount)
		r.Get("/accounts/{id}", handler.GetAccount)
		r.Get("/accounts/{id}/presence", handler.GetPresence)
		r.Post("/accounts/{id}/presence", handler.UpdatePresence)

		r.Get("/owner/{ownerId}/printers", handler.ListOwnedPrinters)
		r.Post("/owner/{ownerId}/printer/{printerId}", handler.LinkPrinter)
		r.Patch("/owner/{ownerId}/printer/{printerId}", handler.UnlinkPrinter)

		r.Delete("/printer/{printerId}", handler.RemovePrinter)
	})

	return router
}
