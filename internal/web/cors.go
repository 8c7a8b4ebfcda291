package web

import (
	"net/http"
	"slices"
	"strconv"
)

// CORSConfig controls cross-origin access to the HTTP surface.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the API.
	AllowedOrigins []string

	// AllowAll allows any origin (the "*" entry).
	AllowAll bool

	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int
}

func (c CORSConfig) enabled() bool {
	return c.AllowAll || len(c.AllowedOrigins) > 0
}

func (c CORSConfig) allows(origin string) bool {
	return c.AllowAll || slices.Contains(c.AllowedOrigins, origin)
}

// withCORS answers preflight requests and sets CORS headers for allowed
// origins. Requests from other origins pass through without CORS headers.
func withCORS(cfg CORSConfig, next http.Handler) http.Handler {
	if !cfg.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !cfg.allows(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
		if cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+traceHeader)
			h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
