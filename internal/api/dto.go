package api

import (
	"errors"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/starford/arvore/internal/familysearch"
	"github.com/starford/arvore/internal/familyservice"
	"github.com/starford/arvore/internal/models"
)

// SearchRequest is the query of GET /persons/family/search and the body of
// POST /persons/family/import.
type SearchRequest struct {
	CPF            string `json:"cpf" example:"385.797.548-28" validate:"required,min=11,max=14"`
	MaxDepth       *int   `json:"maxDepth,omitempty" example:"3" validate:"omitempty,min=1,max=5"`
	IncludeSpouses *bool  `json:"includeSpouses,omitempty" example:"true"`
	// CacheExpiry is the cache TTL in seconds. Zero skips the cache write.
	CacheExpiry *int `json:"cacheExpiry,omitempty" example:"86400" validate:"omitempty,min=0"`
}

// Options overlays the request on defaults.
func (r SearchRequest) Options(defaults familysearch.Options) familysearch.Options {
	opts := defaults
	if r.MaxDepth != nil {
		opts.MaxDepth = *r.MaxDepth
	}
	if r.IncludeSpouses != nil {
		opts.IncludeSpouses = *r.IncludeSpouses
	}
	if r.CacheExpiry != nil {
		opts.CacheTTL = time.Duration(*r.CacheExpiry) * time.Second
	}
	return opts
}

// SearchManyRequest is the body of POST /persons/family/search-multiple.
type SearchManyRequest struct {
	CPFs           []string `json:"cpfs" validate:"required,min=1,max=10,dive,min=11,max=14"`
	MaxDepth       *int     `json:"maxDepth,omitempty" example:"3" validate:"omitempty,min=1,max=5"`
	IncludeSpouses *bool    `json:"includeSpouses,omitempty" example:"true"`
}

// Options overlays the request on defaults.
func (r SearchManyRequest) Options(defaults familysearch.Options) familysearch.Options {
	return SearchRequest{MaxDepth: r.MaxDepth, IncludeSpouses: r.IncludeSpouses}.Options(defaults)
}

// ListPeopleRequest is the query of GET /persons.
type ListPeopleRequest struct {
	Search string `json:"search,omitempty" example:"silva" validate:"max=200"`
	Limit  int    `json:"limit,omitempty" example:"50" validate:"min=0,max=500"`
	Offset int    `json:"offset,omitempty" example:"0" validate:"min=0"`
}

// SearchMeta describes a single family search response.
type SearchMeta struct {
	Total    int    `json:"total" example:"12"`
	CPF      string `json:"cpf" example:"38579754828"`
	MaxDepth int    `json:"maxDepth" example:"3"`
}

// SearchManyMeta describes a batch search response.
type SearchManyMeta struct {
	TotalCPFs          int `json:"totalCpfs" example:"3"`
	SuccessfulSearches int `json:"successfulSearches" example:"2"`
}

// TreeMeta describes a stored tree response.
type TreeMeta struct {
	Total    int    `json:"total" example:"12"`
	PersonID string `json:"personId" example:"6f1c..."`
}

// ListMeta describes a page of stored people.
type ListMeta struct {
	Total  int `json:"total" example:"42"`
	Limit  int `json:"limit" example:"50"`
	Offset int `json:"offset" example:"0"`
}

// CacheCleared is the data of a cache invalidation response.
type CacheCleared struct {
	Removed int `json:"removed" example:"3"`
}

// PersonNode is the family-chart node (aliased from the domain layer).
type PersonNode = models.PersonNode

// ImportResult is the data of an import response (aliased from the domain layer).
type ImportResult = familyservice.ImportResult

// PersonListItem is a stored person (aliased from the domain layer).
type PersonListItem = familyservice.PersonListItem

// fieldError is one failed validation rule.
type fieldError struct {
	Field string `json:"field" example:"maxDepth"`
	Rule  string `json:"rule" example:"max"`
	Param string `json:"param,omitempty" example:"5"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationErrors flattens err into per-field errors. It returns nil when
// err is not a validation failure.
func validationErrors(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out = append(out, fieldError{Field: field, Rule: fe.Tag(), Param: fe.Param()})
	}
	return out
}

// parseSearchQuery reads a SearchRequest from URL query parameters.
func parseSearchQuery(q url.Values) (SearchRequest, []fieldError) {
	var (
		req  SearchRequest
		errs []fieldError
	)
	req.CPF = q.Get("cpf")
	if s := q.Get("maxDepth"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, fieldError{Field: "maxDepth", Rule: "number"})
		} else {
			req.MaxDepth = &n
		}
	}
	if s := q.Get("includeSpouses"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			errs = append(errs, fieldError{Field: "includeSpouses", Rule: "boolean"})
		} else {
			req.IncludeSpouses = &b
		}
	}
	if s := q.Get("cacheExpiry"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, fieldError{Field: "cacheExpiry", Rule: "number"})
		} else {
			req.CacheExpiry = &n
		}
	}
	return req, errs
}

// parseListQuery reads a ListPeopleRequest from URL query parameters.
func parseListQuery(q url.Values) (ListPeopleRequest, []fieldError) {
	var (
		req  ListPeopleRequest
		errs []fieldError
	)
	req.Search = q.Get("search")
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &req.Limit}, {"offset", &req.Offset}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, fieldError{Field: p.name, Rule: "number"})
			continue
		}
		*p.dst = n
	}
	return req, errs
}
