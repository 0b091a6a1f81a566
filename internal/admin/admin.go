// Package admin serves the router's operational endpoints on a listener
// separate from the public dispatch table.
package admin

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/pitext/router/internal/dispatch"
	"github.com/pitext/router/internal/errors"
	"github.com/pitext/router/internal/health"
	"github.com/pitext/router/internal/httputil"
	"github.com/pitext/router/internal/loader"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
	"github.com/pitext/router/internal/plugin"
)

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Degraded  []string `json:"degraded,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// InfoResponse is the response for /info.
type InfoResponse struct {
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	StartedAt  string         `json:"started_at"`
	Uptime     string         `json:"uptime"`
	GoVersion  string         `json:"go_version"`
	Goroutines int            `json:"goroutines"`
	Process    map[string]any `json:"process,omitempty"`
	// Kinds lists the mount kinds compiled into this binary.
	Kinds     []plugin.KindInfo `json:"kinds"`
	Timestamp string            `json:"timestamp"`
}

// AppStatus is one entry of /apps.
type AppStatus struct {
	Name      string         `json:"name"`
	Prefix    string         `json:"prefix"`
	WebSocket bool           `json:"websocket"`
	Kind      string         `json:"kind"`
	Export    string         `json:"export,omitempty"`
	Dir       string         `json:"dir"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Probe     *health.Result `json:"probe,omitempty"`
}

// Prober reports upstream probe results.
type Prober interface {
	Result(app string) (health.Result, bool)
	Results() []health.Result
}

// Config configures the admin handler.
type Config struct {
	Service string
	Version string
	Apps    *loader.Set
	Routes  []dispatch.Route
	Prober  Prober
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Server holds the state behind the admin endpoints.
type Server struct {
	cfg     Config
	started time.Time
	router  *mux.Router
}

// New builds the admin router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	s := &Server{cfg: cfg, started: time.Now(), router: mux.NewRouter()}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/apps", s.handleApps).Methods(http.MethodGet)
	s.router.HandleFunc("/probes", s.handleProbes).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		s.router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteServiceError(w, errors.NotFound("Not Found"))
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Service:   s.cfg.Service,
		Version:   s.cfg.Version,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if s.cfg.Apps != nil {
		if degraded := s.cfg.Apps.Degraded(); len(degraded) > 0 {
			resp.Status = "degraded"
			resp.Degraded = degraded
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	resp := InfoResponse{
		Service:    s.cfg.Service,
		Version:    s.cfg.Version,
		StartedAt:  s.started.Format(time.RFC3339),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		Kinds:      plugin.AllInfo(),
		Timestamp:  time.Now().Format(time.RFC3339),
	}

	stats, err := processStats(r)
	if err != nil {
		s.cfg.Logger.WithContext(r.Context()).WithError(err).Debug("process stats unavailable")
	} else {
		resp.Process = stats
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func processStats(r *http.Request) (map[string]any, error) {
	proc, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	stats := map[string]any{"pid": proc.Pid}
	if mem, err := proc.MemoryInfoWithContext(r.Context()); err == nil {
		stats["rss_bytes"] = mem.RSS
		stats["vms_bytes"] = mem.VMS
	}
	if cpu, err := proc.CPUPercentWithContext(r.Context()); err == nil {
		stats["cpu_percent"] = cpu
	}
	if threads, err := proc.NumThreadsWithContext(r.Context()); err == nil {
		stats["threads"] = threads
	}
	if fds, err := proc.NumFDsWithContext(r.Context()); err == nil {
		stats["open_fds"] = fds
	}
	return stats, nil
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"apps": s.Apps()})
}

// handleProbes returns the latest health result of every upstream, sorted by app.
func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	probes := []health.Result{}
	if s.cfg.Prober != nil {
		probes = append(probes, s.cfg.Prober.Results()...)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"probes": probes})
}

// Apps lists every routed app in dispatch order.
func (s *Server) Apps() []AppStatus {
	out := make([]AppStatus, 0, len(s.cfg.Routes))
	for _, route := range s.cfg.Routes {
		st := AppStatus{
			Name:      route.Name,
			Prefix:    route.Prefix,
			WebSocket: route.WebSocket,
		}
		if s.cfg.Apps != nil {
			if app, ok := s.cfg.Apps.Get(route.Name); ok {
				st.Kind = app.Kind()
				st.Export = app.Export
				st.Dir = app.Dir
				st.Status = string(app.Status)
				if app.Err != nil {
					st.Error = app.Err.Error()
				}
			}
		}
		if s.cfg.Prober != nil {
			if res, ok := s.cfg.Prober.Result(route.Name); ok {
				st.Probe = &res
			}
		}
		out = append(out, st)
	}
	return out
}
