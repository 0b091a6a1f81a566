package dispatch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
)

// recorder counts the requests each app receives.
type recorder struct {
	hits map[string]int
}

func (rc *recorder) handler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc.hits[name]++
		w.Header().Set("X-App", name)
		w.WriteHeader(http.StatusOK)
	})
}

func newDispatcher(t *testing.T, favicon string) (*Dispatcher, *recorder) {
	t.Helper()
	rc := &recorder{hits: map[string]int{}}
	d, err := New(Config{
		Routes: []Route{
			{Name: "codegen", Prefix: "/codegen", WebSocket: true, Handler: rc.handler("codegen")},
			{Name: "travel", Prefix: "/travel", WebSocket: true, Handler: rc.handler("travel")},
			{Name: "calendar", Prefix: "/calendar", Handler: rc.handler("calendar")},
			{Name: "desktop", Prefix: "/desktop", Handler: rc.handler("desktop")},
			{Name: "mobile", Prefix: "/mobile", Handler: rc.handler("mobile")},
		},
		Default:     "desktop",
		FaviconFile: favicon,
		Logger:      logging.NewDiscard("test"),
	})
	require.NoError(t, err)
	return d, rc
}

func serve(d http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func wsRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	return req
}

func TestPrefixRoutesToExactlyOneApp(t *testing.T) {
	tests := []struct {
		path string
		app  string
	}{
		{"/codegen", "codegen"},
		{"/codegen/api/generate", "codegen"},
		{"/travel/", "travel"},
		{"/travel/static/app.js", "travel"},
		{"/calendar/events", "calendar"},
		{"/desktop/", "desktop"},
		{"/desktop/api/diagram", "desktop"},
		{"/mobile/", "mobile"},
		{"/mobile/render?x=1", "mobile"},
		{"/desktopx", "desktop"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d, rc := newDispatcher(t, "")
			for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
				rec := serve(d, httptest.NewRequest(method, tt.path, nil))
				assert.Equal(t, tt.app, rec.Header().Get("X-App"))
			}
			assert.Equal(t, map[string]int{tt.app: 3}, rc.hits)
		})
	}
}

func TestForwardKeepsPath(t *testing.T) {
	var seen string
	d, err := New(Config{
		Routes: []Route{{Name: "desktop", Prefix: "/desktop", Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.URL.RequestURI()
		})}},
		Default: "desktop",
		Logger:  logging.NewDiscard("test"),
	})
	require.NoError(t, err)

	serve(d, httptest.NewRequest(http.MethodGet, "/desktop/api/render?format=svg", nil))
	assert.Equal(t, "/desktop/api/render?format=svg", seen)
}

func TestRootRedirectByUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", "/desktop/"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36", "/mobile/"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "/mobile/"},
		{"Mozilla/5.0 (X11) Gecko Mobile Safari", "/mobile/"},
		{"SOME-ANDROID-BOT", "/mobile/"},
		{"", "/desktop/"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", "/desktop/"},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			d, rc := newDispatcher(t, "")
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("User-Agent", tt.ua)
			rec := serve(d, req)

			assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Location"))
			assert.Empty(t, rc.hits)
		})
	}
}

func TestIsMobile(t *testing.T) {
	assert.True(t, IsMobile("android"))
	assert.True(t, IsMobile("xxMOBIxx"))
	assert.True(t, IsMobile("IPhone"))
	assert.False(t, IsMobile("Macintosh"))
	assert.False(t, IsMobile(""))
}

func TestUnmatchedPathsReturnJSON404(t *testing.T) {
	for _, path := range []string{"/unknown", "/socket.io/", "/api/events", "/mobil", "/index.html"} {
		d, rc := newDispatcher(t, "")
		rec := serve(d, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String())
		assert.Empty(t, rc.hits)
	}
}

func TestFavicon(t *testing.T) {
	dir := t.TempDir()
	icon := filepath.Join(dir, "Strassens_icon.ico")
	require.NoError(t, os.WriteFile(icon, []byte("ICON"), 0o644))

	d, _ := newDispatcher(t, icon)
	rec := serve(d, httptest.NewRequest(http.MethodGet, FaviconPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ICON", rec.Body.String())

	d, rc := newDispatcher(t, filepath.Join(dir, "missing.ico"))
	rec = serve(d, httptest.NewRequest(http.MethodGet, FaviconPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Favicon not found"}`, rec.Body.String())
	assert.Empty(t, rc.hits)
}

func TestWebSocketRouting(t *testing.T) {
	tests := []struct {
		path string
		app  string
	}{
		{"/codegen/ws", "codegen"},
		{"/travel/voice", "travel"},
		{"/socket.io/?EIO=4", "desktop"},
		{"/mobile/live", "desktop"},
		{"/calendar/stream", "desktop"},
		{FaviconPath, "desktop"},
		{"/", "desktop"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d, rc := newDispatcher(t, "")
			rec := serve(d, wsRequest(tt.path))
			assert.Equal(t, tt.app, rec.Header().Get("X-App"))
			assert.Equal(t, map[string]int{tt.app: 1}, rc.hits)
		})
	}
}

func TestResolveLabelsRoute(t *testing.T) {
	d, _ := newDispatcher(t, "")

	ctx, label := metrics.WithRouteLabel(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	serve(d, httptest.NewRequest(http.MethodGet, "/nope", nil).WithContext(ctx))
	assert.Equal(t, RouteNotFound, label.Name())

	dec := d.Resolve(httptest.NewRequest(http.MethodGet, "/travel/x", nil))
	assert.Equal(t, Decision{Action: ActionForward, Route: "travel"}, dec)
	assert.Equal(t, "forward", dec.Action.String())

	dec = d.Resolve(httptest.NewRequest(http.MethodGet, FaviconPath, nil))
	assert.Equal(t, ActionFavicon, dec.Action)
}

func TestNewValidation(t *testing.T) {
	ok := http.NotFoundHandler()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no routes", Config{Default: "desktop"}},
		{"missing handler", Config{Routes: []Route{{Name: "desktop", Prefix: "/desktop"}}, Default: "desktop"}},
		{"bad prefix", Config{Routes: []Route{{Name: "desktop", Prefix: "desktop", Handler: ok}}, Default: "desktop"}},
		{"root prefix", Config{Routes: []Route{{Name: "desktop", Prefix: "/", Handler: ok}}, Default: "desktop"}},
		{"duplicate", Config{Routes: []Route{
			{Name: "desktop", Prefix: "/desktop", Handler: ok},
			{Name: "desktop", Prefix: "/d2", Handler: ok},
		}, Default: "desktop"}},
		{"unknown default", Config{Routes: []Route{{Name: "desktop", Prefix: "/desktop", Handler: ok}}, Default: "mobile"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = logging.NewDiscard("test")
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRoutesReturnsCopy(t *testing.T) {
	d, _ := newDispatcher(t, "")
	routes := d.Routes()
	require.Len(t, routes, 5)
	routes[0].Prefix = "/changed"
	assert.True(t, strings.HasPrefix(d.Routes()[0].Prefix, "/codegen"))
}
