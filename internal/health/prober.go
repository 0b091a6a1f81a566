// Package health probes proxied sub-apps on a schedule. Probe results are
// informational: they feed metrics and the admin listing but never change
// where requests are dispatched.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"

	"github.com/pitext/router/internal/apps/proxy"
	"github.com/pitext/router/internal/httputil"
	"github.com/pitext/router/internal/loader"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
)

// DefaultSchedule probes every upstream twice a minute.
const DefaultSchedule = "@every 30s"

const maxBodySize = 64 << 10

// Target is one upstream health endpoint.
type Target struct {
	App     string
	BaseURL string
	Path    string
}

// Result is the outcome of the most recent probe of a target.
type Result struct {
	App        string        `json:"app"`
	URL        string        `json:"url"`
	Up         bool          `json:"up"`
	StatusCode int           `json:"status_code,omitempty"`
	Status     string        `json:"status,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Config configures a Prober.
type Config struct {
	Targets  []Target
	Schedule string
	Timeout  time.Duration
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

// Prober periodically GETs each target's health path.
type Prober struct {
	targets  []Target
	clients  map[string]*httputil.Client
	schedule string
	log      *logging.Logger
	metrics  *metrics.Metrics
	cron     *cron.Cron

	mu      sync.RWMutex
	results map[string]Result
}

// TargetsFromSet returns a target for every loaded proxy app that declares
// a health_path.
func TargetsFromSet(set *loader.Set) []Target {
	var targets []Target
	for _, app := range set.All() {
		if app.Status != loader.StatusLoaded || app.Spec.Kind != proxy.Kind || app.Spec.HealthPath == "" {
			continue
		}
		u, err := proxy.ResolveUpstream(app.Namespace, app.Spec.Upstream)
		if err != nil {
			continue
		}
		targets = append(targets, Target{
			App:     app.Name,
			BaseURL: u.String(),
			Path:    app.Spec.HealthPath,
		})
	}
	return targets
}

// NewProber validates the schedule and builds a Prober. It does not start probing.
func NewProber(cfg Config) (*Prober, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("health: invalid schedule %q: %w", schedule, err)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	p := &Prober{
		targets:  cfg.Targets,
		clients:  make(map[string]*httputil.Client, len(cfg.Targets)),
		schedule: schedule,
		log:      log,
		metrics:  cfg.Metrics,
		results:  make(map[string]Result, len(cfg.Targets)),
	}
	for _, t := range cfg.Targets {
		p.clients[t.App] = httputil.NewClient(httputil.ClientConfig{
			BaseURL: t.BaseURL,
			Timeout: cfg.Timeout,
		})
	}
	return p, nil
}

// Start runs one probe round immediately and then follows the schedule.
func (p *Prober) Start(ctx context.Context) error {
	if len(p.targets) == 0 {
		p.log.Info("no upstream health targets, prober idle")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { p.ProbeAll(ctx) }); err != nil {
		return fmt.Errorf("health: schedule probes: %w", err)
	}
	p.cron = c

	go p.ProbeAll(ctx)
	c.Start()
	p.log.WithField("schedule", p.schedule).WithField("targets", len(p.targets)).Info("health prober started")
	return nil
}

// Stop halts scheduling and waits for a running round, bounded by ctx.
func (p *Prober) Stop(ctx context.Context) {
	if p.cron == nil {
		return
	}
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// ProbeAll probes every target concurrently.
func (p *Prober) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range p.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			p.record(p.Probe(ctx, t))
		}(t)
	}
	wg.Wait()
}

// Probe checks one target.
func (p *Prober) Probe(ctx context.Context, t Target) Result {
	client, ok := p.clients[t.App]
	if !ok {
		client = httputil.NewClient(httputil.ClientConfig{BaseURL: t.BaseURL})
	}

	res := Result{
		App:       t.App,
		URL:       client.BaseURL() + t.Path,
		CheckedAt: time.Now(),
	}
	start := time.Now()

	resp, err := client.Get(ctx, t.Path)
	res.Latency = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	body, err := httputil.ReadBody(resp, maxBodySize)
	res.StatusCode = resp.StatusCode
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Up, res.Status = evaluate(resp.StatusCode, body)
	if !res.Up && res.Error == "" {
		res.Error = fmt.Sprintf("unhealthy response: %d %s", resp.StatusCode, res.Status)
	}
	return res
}

// evaluate accepts a 2xx whose JSON "status" is ok or healthy, or any 2xx
// without a status field.
func evaluate(code int, body []byte) (bool, string) {
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return false, ""
	}
	if !gjson.ValidBytes(body) {
		return true, ""
	}
	status := gjson.GetBytes(body, "status")
	if !status.Exists() {
		return true, ""
	}
	s := strings.ToLower(status.String())
	return s == "ok" || s == "healthy", status.String()
}

func (p *Prober) record(res Result) {
	p.mu.Lock()
	prev, seen := p.results[res.App]
	p.results[res.App] = res
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetUpstreamUp(res.App, res.Up)
	}

	if seen && prev.Up == res.Up {
		return
	}
	entry := p.log.WithApp(res.App).WithField("url", res.URL)
	if res.Up {
		entry.Info("upstream healthy")
	} else {
		entry.WithField("error", res.Error).Warn("upstream unhealthy")
	}
}

// Result returns the last probe of app.
func (p *Prober) Result(app string) (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.results[app]
	return res, ok
}

// Results returns the last probe of every target, sorted by app.
func (p *Prober) Results() []Result {
	p.mu.RLock()
	out := make([]Result, 0, len(p.results))
	for _, res := range p.results {
		out = append(out, res)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].App < out[j].App })
	return out
}
