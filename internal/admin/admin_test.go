package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/pitext/router/internal/apps/echo"
	"github.com/pitext/router/internal/dispatch"
	"github.com/pitext/router/internal/health"
	"github.com/pitext/router/internal/loader"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
	"github.com/pitext/router/internal/plugin"
)

type fakeProber map[string]health.Result

func (f fakeProber) Result(app string) (health.Result, bool) {
	res, ok := f[app]
	return res, ok
}

func (f fakeProber) Results() []health.Result {
	out := make([]health.Result, 0, len(f))
	for _, res := range f {
		out = append(out, res)
	}
	return out
}

func newServer(t *testing.T) *Server {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "desktop")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, loader.ManifestFile), []byte("exports:\n  app:\n    kind: echo\n"), 0o644))

	log := logging.NewDiscard("test")
	set := loader.New(log, loader.WithEnviron(func() []string { return nil })).LoadAll(context.Background(), []loader.Spec{
		{Name: "desktop", Dir: dir, Export: "asgi_app"},
		{Name: "mobile", Dir: filepath.Join(base, "pitext-mobile"), Export: "asgi_app"},
	})

	m := metrics.New(false)
	m.RecordRateLimited()

	return New(Config{
		Service: "pitext-router",
		Version: "test",
		Apps:    set,
		Routes: []dispatch.Route{
			{Name: "desktop", Prefix: "/desktop", WebSocket: true, Handler: set.Handler("desktop")},
			{Name: "mobile", Prefix: "/mobile", Handler: set.Handler("mobile")},
		},
		Prober:  fakeProber{"desktop": {App: "desktop", Up: true, Status: "ok"}},
		Metrics: m,
		Logger:  log,
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newServer(t), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, []string{"mobile"}, resp.Degraded)
	assert.Equal(t, "pitext-router", resp.Service)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestInfo(t *testing.T) {
	rec := get(t, newServer(t), "/info")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test", resp.Version)
	assert.True(t, strings.HasPrefix(resp.GoVersion, "go"))
	assert.Positive(t, resp.Goroutines)

	var echo *plugin.KindInfo
	for i := range resp.Kinds {
		if resp.Kinds[i].Kind == "echo" {
			echo = &resp.Kinds[i]
		}
	}
	require.NotNil(t, echo, "echo kind is registered")
	assert.NotEmpty(t, echo.Description)
	assert.True(t, echo.Selectable)
	assert.Contains(t, rec.Body.String(), `"kinds":[`)
}

func TestUpstreamResults(t *testing.T) {
	rec := get(t, newServer(t), "/probes")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Probes []health.Result `json:"probes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Probes, 1)
	assert.Equal(t, "desktop", resp.Probes[0].App)
	assert.True(t, resp.Probes[0].Up)
}

func TestUpstreamResultsWithoutProber(t *testing.T) {
	s := New(Config{Service: "pitext-router", Logger: logging.NewDiscard("test")})
	rec := get(t, s, "/probes")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"probes":[]}`, rec.Body.String())
}

func TestApps(t *testing.T) {
	s := newServer(t)
	apps := s.Apps()
	require.Len(t, apps, 2)

	assert.Equal(t, "desktop", apps[0].Name)
	assert.Equal(t, "echo", apps[0].Kind)
	assert.Equal(t, "app", apps[0].Export)
	assert.Equal(t, "loaded", apps[0].Status)
	require.NotNil(t, apps[0].Probe)
	assert.True(t, apps[0].Probe.Up)

	assert.Equal(t, "mobile", apps[1].Name)
	assert.Equal(t, "stub", apps[1].Kind)
	assert.Equal(t, "degraded", apps[1].Status)
	assert.Contains(t, apps[1].Error, "app.yaml")
	assert.Nil(t, apps[1].Probe)

	rec := get(t, s, "/apps")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prefix":"/desktop"`)
}

func TestMetricsAndNotFound(t *testing.T) {
	s := newServer(t)

	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pitext_router_rate_limited_total 1")

	rec = get(t, s, "/desktop/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String())
}
