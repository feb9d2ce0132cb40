// Package api implements the arvore REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware rejects requests without "Authorization: Bearer <token>"
// when enabled is true. With enabled false every request passes.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return requireToken(enabled, token, bearerToken)
}

// streamAuth is AuthMiddleware for the event stream. Browsers cannot set
// headers on an EventSource, so an access_token query parameter is accepted
// as well.
func streamAuth(enabled bool, token string) func(http.Handler) http.Handler {
	return requireToken(enabled, token, func(r *http.Request) string {
		if t := bearerToken(r); t != "" {
			return t
		}
		return r.URL.Query().Get("access_token")
	})
}

func bearerToken(r *http.Request) string {
	scheme, credentials, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credentials)
}

func requireToken(enabled bool, token string, extract func(*http.Request) string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := extract(r)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="arvore"`)
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
