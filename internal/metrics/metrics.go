// Package metrics holds the router's Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pitext_router"

// Metrics bundles the collectors registered on one registry.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	appLoads     *prometheus.CounterVec
	upstreamUp   *prometheus.GaugeVec
	rateLimited  prometheus.Counter
}

// New creates a Metrics with its own registry. Process and Go runtime
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests dispatched, by route.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests, by route.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"route"}),
		appLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_loads_total",
			Help:      "Sub-app load attempts by outcome.",
		}, []string{"app", "status"}),
		upstreamUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_up",
			Help:      "1 if the last health probe of a proxied sub-app succeeded.",
		}, []string{"app"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.appLoads,
		m.upstreamUp,
		m.rateLimited,
	)
	if withRuntime {
		m.Registry.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
	}
	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one dispatched request.
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	m.httpRequests.WithLabelValues(route, strings.ToUpper(method), strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordAppLoad records a sub-app load outcome ("loaded" or "degraded").
func (m *Metrics) RecordAppLoad(app, status string) {
	m.appLoads.WithLabelValues(app, status).Inc()
}

// SetUpstreamUp records the latest probe result for app.
func (m *Metrics) SetUpstreamUp(app string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.upstreamUp.WithLabelValues(app).Set(v)
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// =============================================================================
// Route labels
// =============================================================================

type routeKey struct{}

// RouteLabel is filled in by the dispatcher and read by middleware that
// wraps it, after the request completes.
type RouteLabel struct {
	mu   sync.Mutex
	name string
}

// Set records the route name.
func (l *RouteLabel) Set(name string) {
	l.mu.Lock()
	l.name = name
	l.mu.Unlock()
}

// Name returns the recorded route name, or "".
func (l *RouteLabel) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

// WithRouteLabel attaches an empty RouteLabel to ctx, reusing one already present.
func WithRouteLabel(ctx context.Context) (context.Context, *RouteLabel) {
	if l, ok := ctx.Value(routeKey{}).(*RouteLabel); ok {
		return ctx, l
	}
	l := &RouteLabel{}
	return context.WithValue(ctx, routeKey{}, l), l
}

// SetRoute records name on the RouteLabel in ctx, if any.
func SetRoute(ctx context.Context, name string) {
	if l, ok := ctx.Value(routeKey{}).(*RouteLabel); ok {
		l.Set(name)
	}
}
