// Package middleware provides HTTP middleware functions
package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/pitext/router/internal/metrics"
)

// Chain wraps h with mws; the first middleware is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// MetricsMiddleware records HTTP metrics for each request, labelled with the
// route the dispatcher chose.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.IncrementInFlight()
			defer m.DecrementInFlight()

			ctx, label := metrics.WithRouteLabel(r.Context())
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			m.RecordHTTPRequest(label.Name(), r.Method, wrapped.statusCode, time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code. It keeps
// Hijack and Flush available so WebSocket upgrades and streamed responses
// pass through.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer does not support hijacking")
	}
	conn, brw, err := h.Hijack()
	if err == nil && !rw.written {
		rw.statusCode = http.StatusSwitchingProtocols
		rw.written = true
	}
	return conn, brw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
