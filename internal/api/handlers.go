package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/starford/arvore/internal/apperr"
	"github.com/starford/arvore/internal/familyservice"
	"github.com/starford/arvore/internal/models"
	"github.com/starford/arvore/internal/records"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *familyservice.Service
	validate *validator.Validate
}

// NewHandler creates a new Handler.
func NewHandler(svc *familyservice.Service) *Handler {
	return &Handler{svc: svc, validate: newValidator()}
}

// check validates v and writes a 400 response when it fails.
func (h *Handler) check(w http.ResponseWriter, v any, parseErrs []fieldError) bool {
	errs := parseErrs
	if err := h.validate.Struct(v); err != nil {
		errs = append(errs, validationErrors(err)...)
	}
	if len(errs) == 0 {
		return true
	}
	writeJSON(w, http.StatusBadRequest, envelope{Message: "validation failed", Errors: errs})
	return false
}

// fail maps a service error to a response. fallback is the message used for
// unexpected errors, which are logged and never echoed.
func fail(w http.ResponseWriter, err error, fallback string, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(fallback))
	case errors.Is(err, apperr.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("record service unavailable"))
	default:
		slog.Error(fallback, append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody(fallback))
	}
}

func nonNil(nodes []models.PersonNode) []models.PersonNode {
	if nodes == nil {
		return []models.PersonNode{}
	}
	return nodes
}

// Search handles GET /api/v1/persons/family/search.
//
//	@Summary		Search the family graph of a CPF
//	@Tags			family
//	@Produce		json
//	@Param			cpf				query		string	true	"CPF, formatted or digits only"
//	@Param			maxDepth		query		int		false	"Traversal depth (1-5)"
//	@Param			includeSpouses	query		bool	false	"Follow spouse links"
//	@Param			cacheExpiry		query		int		false	"Cache TTL in seconds"
//	@Success		200				{object}	envelope{data=[]PersonNode,meta=SearchMeta}
//	@Failure		400				{object}	envelope
//	@Failure		503				{object}	envelope
//	@Router			/persons/family/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, parseErrs := parseSearchQuery(r.URL.Query())
	if !h.check(w, req, parseErrs) {
		return
	}
	opts := req.Options(h.svc.Defaults())
	nodes, err := h.svc.Search(r.Context(), req.CPF, opts)
	if err != nil {
		fail(w, err, "Error searching family data", slog.String("cpf", req.CPF))
		return
	}
	writeJSON(w, http.StatusOK, ok(nonNil(nodes), SearchMeta{
		Total:    len(nodes),
		CPF:      req.CPF,
		MaxDepth: opts.MaxDepth,
	}))
}

// SearchMany handles POST /api/v1/persons/family/search-multiple.
//
//	@Summary		Search the family graphs of several CPFs
//	@Tags			family
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SearchManyRequest	true	"CPFs to search"
//	@Success		200		{object}	envelope{data=map[string][]PersonNode,meta=SearchManyMeta}
//	@Failure		400		{object}	envelope
//	@Router			/persons/family/search-multiple [post]
func (h *Handler) SearchMany(w http.ResponseWriter, r *http.Request) {
	var req SearchManyRequest
	if !decodeJSON(w, r, &req) || !h.check(w, req, nil) {
		return
	}
	results, err := h.svc.SearchMany(r.Context(), req.CPFs, req.Options(h.svc.Defaults()))
	if err != nil {
		fail(w, err, "Error searching multiple families", slog.Int("cpfs", len(req.CPFs)))
		return
	}
	successful := 0
	for cpf, nodes := range results {
		if len(nodes) > 0 {
			successful++
		}
		results[cpf] = nonNil(nodes)
	}
	writeJSON(w, http.StatusOK, ok(results, SearchManyMeta{
		TotalCPFs:          len(req.CPFs),
		SuccessfulSearches: successful,
	}))
}

// Tree handles GET /api/v1/persons/family/{id}/tree.
//
//	@Summary		Get the stored family tree around a person
//	@Tags			family
//	@Produce		json
//	@Param			id	path		string	true	"Person id"
//	@Success		200	{object}	envelope{data=[]PersonNode,meta=TreeMeta}
//	@Failure		404	{object}	envelope
//	@Router			/persons/family/{id}/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	nodes, err := h.svc.Tree(r.Context(), id)
	if err != nil {
		fail(w, err, "Person not found or no family data available", slog.String("person_id", id))
		return
	}
	writeJSON(w, http.StatusOK, ok(nodes, TreeMeta{Total: len(nodes), PersonID: id}))
}

// Import handles POST /api/v1/persons/family/import.
//
//	@Summary		Search a CPF and store its family graph
//	@Tags			family
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SearchRequest	true	"CPF to import"
//	@Success		201		{object}	envelope{data=ImportResult}
//	@Failure		400		{object}	envelope
//	@Failure		404		{object}	envelope
//	@Security		BearerAuth
//	@Router			/persons/family/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) || !h.check(w, req, nil) {
		return
	}
	res, err := h.svc.Import(r.Context(), req.CPF, req.Options(h.svc.Defaults()))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("No family data found for the provided CPF"))
			return
		}
		fail(w, err, "Error importing family data", slog.String("cpf", req.CPF))
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "Family data imported successfully",
		Data:    res,
	})
}

// ClearCache handles DELETE /api/v1/persons/family/cache/{cpf}.
//
//	@Summary		Drop cached searches of one CPF
//	@Tags			cache
//	@Produce		json
//	@Param			cpf	path		string	true	"CPF"
//	@Success		200	{object}	envelope{data=CacheCleared}
//	@Failure		400	{object}	envelope
//	@Security		BearerAuth
//	@Router			/persons/family/cache/{cpf} [delete]
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	cpf := chi.URLParam(r, "cpf")
	n, err := h.svc.ClearCache(r.Context(), cpf)
	if err != nil {
		fail(w, err, "Error clearing cache", slog.String("cpf", cpf))
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf("Cache cleared for CPF: %s", records.NormalizeIdentifier(cpf)),
		Data:    CacheCleared{Removed: n},
	})
}

// ClearAllCache handles DELETE /api/v1/persons/family/cache.
//
//	@Summary		Drop every cached search
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	envelope{data=CacheCleared}
//	@Security		BearerAuth
//	@Router			/persons/family/cache [delete]
func (h *Handler) ClearAllCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearAllCache(r.Context())
	if err != nil {
		fail(w, err, "Error clearing cache")
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "All family search cache cleared",
		Data:    CacheCleared{Removed: n},
	})
}

// ListPeople handles GET /api/v1/persons.
//
//	@Summary		List stored people
//	@Tags			persons
//	@Produce		json
//	@Param			search	query		string	false	"Name filter"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	envelope{data=[]PersonListItem,meta=ListMeta}
//	@Failure		400		{object}	envelope
//	@Router			/persons [get]
func (h *Handler) ListPeople(w http.ResponseWriter, r *http.Request) {
	req, parseErrs := parseListQuery(r.URL.Query())
	if !h.check(w, req, parseErrs) {
		return
	}
	items, total, err := h.svc.ListPeople(r.Context(), req.Search, req.Limit, req.Offset)
	if err != nil {
		fail(w, err, "Error listing people")
		return
	}
	if items == nil {
		items = []PersonListItem{}
	}
	writeJSON(w, http.StatusOK, ok(items, ListMeta{Total: total, Limit: req.Limit, Offset: req.Offset}))
}
