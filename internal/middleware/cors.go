package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// Origins lists the frontend origins allowed to call the API with the client
// cookie. A "*" entry allows every origin.
type Origins []string

// Allowed reports whether a browser Origin header value is on the list.
func (o Origins) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, item := range o {
		if item == "*" || strings.EqualFold(strings.TrimRight(item, "/"), origin) {
			return true
		}
	}
	return false
}

// CheckRequest is the websocket origin check: requests without an Origin
// header and same-host requests pass, everything else must be listed.
func (o Origins) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return o.Allowed(origin)
}

// CORS allows the listed study frontends to call the API from another origin.
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origins.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ClientHeader)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
