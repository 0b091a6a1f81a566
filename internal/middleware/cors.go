// Package middleware provides HTTP middleware for the router
package middleware

import (
	"net/http"
	"strings"
)

// CORSMiddleware adds Cross-Origin Resource Sharing headers for allowed
// origins. It never answers a request itself.
type CORSMiddleware struct {
	allowedOrigins []string
	allowAll       bool
}

// NewCORSMiddleware creates a new CORS middleware. It returns nil when no
// origins are configured, which Chain skips.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		return nil
	}
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
		allowAll:       allowAll,
	}
}

// Handler returns the CORS middleware handler
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !m.allowAll && !m.isOriginAllowed(origin) {
			// Let the sub-app decide; it may have its own CORS policy.
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Trace-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Preflights are dispatched like any other request, so an unrouted
		// path still gets the router's 404 and a sub-app answers its own.
		next.ServeHTTP(w, r)
	})
}

// Wrap is Handler, usable with Chain even when m is nil.
func (m *CORSMiddleware) Wrap() func(http.Handler) http.Handler {
	if m == nil {
		return nil
	}
	return m.Handler
}

// isOriginAllowed checks if an origin is in the allowed list
func (m *CORSMiddleware) isOriginAllowed(origin string) bool {
	for _, allowed := range m.allowedOrigins {
		if allowed == origin || (strings.HasPrefix(allowed, ".") && strings.HasSuffix(origin, allowed)) {
			return true
		}
	}
	return false
}
