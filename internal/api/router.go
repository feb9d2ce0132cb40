package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/arvore/internal/familyservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced on the routes
// that write the graph or drop the cache.
// sseHandler, if non-nil, is mounted at GET /events behind the same token,
// which may also arrive as ?access_token=.
func NewRouter(svc *familyservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	r.Route("/persons", func(r chi.Router) {
		r.Get("/", h.ListPeople)

		r.Route("/family", func(r chi.Router) {
			r.Get("/search", h.Search)
			r.Post("/search-multiple", h.SearchMany)
			r.Get("/{id}/tree", h.Tree)

			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware(authEnabled, token))
				r.Post("/import", h.Import)
				r.Delete("/cache", h.ClearAllCache)
				r.Delete("/cache/{cpf}", h.ClearCache)
			})
		})
	})

	if sseHandler != nil {
		r.With(streamAuth(authEnabled, token)).Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
