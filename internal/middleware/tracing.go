// Package middleware provides HTTP middleware for the router
package middleware

import (
	"net/http"
	"time"

	"github.com/pitext/router/internal/logging"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware adds trace ID to all requests and logs them on completion.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{
		logger: logger,
	}
}

// Handler returns the tracing middleware handler
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Generate or extract trace ID
		traceID := r.Header.Get(TraceHeader)
		generated := traceID == ""
		if generated {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		// Clone so the caller's request is left as it was.
		inner := r.Clone(ctx)
		if generated {
			inner.Header.Set(TraceHeader, traceID)
		}

		rw := wrapResponseWriter(w)
		start := time.Now()

		next.ServeHTTP(rw, inner)

		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
