// Package dispatch routes each incoming request to exactly one loaded sub-app.
//
// Priority order:
//  1. WebSocket upgrades go to the first WebSocket-enabled app whose prefix
//     matches, else to the default app.
//  2. /favicon.ico is served from a fixed file.
//  3. Requests whose path starts with an app prefix go to that app, in table order.
//  4. The bare root redirects to the mobile or desktop entry by User-Agent.
//  5. Everything else is a JSON 404.
//
// Paths are forwarded unchanged. The table is fixed at construction.
package dispatch

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/pitext/router/internal/errors"
	"github.com/pitext/router/internal/httputil"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
)

// FaviconPath is the request path answered from the favicon file.
const FaviconPath = "/favicon.ico"

// Route labels for requests the dispatcher answers itself.
const (
	RouteFavicon  = "favicon"
	RouteRedirect = "redirect"
	RouteNotFound = "not_found"
)

// mobileMarkers are matched case-insensitively against the User-Agent.
var mobileMarkers = []string{"android", "mobi", "iphone"}

// Action is what the dispatcher does with a request.
type Action int

const (
	ActionForward Action = iota
	ActionFavicon
	ActionRedirect
	ActionNotFound
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionFavicon:
		return "favicon"
	case ActionRedirect:
		return "redirect"
	default:
		return "not_found"
	}
}

// Decision is the outcome of Resolve.
type Decision struct {
	Action   Action
	Route    string // app name for ActionForward, else one of the Route* labels
	Location string // redirect target for ActionRedirect
}

// Route mounts one app under a path prefix.
type Route struct {
	Name      string
	Prefix    string
	WebSocket bool
	Handler   http.Handler
}

// Config configures a Dispatcher.
type Config struct {
	// Routes in matching priority order.
	Routes []Route
	// Default names the app that receives WebSocket upgrades no other route claims.
	Default         string
	FaviconFile     string
	MobileRedirect  string
	DesktopRedirect string
	Logger          *logging.Logger
}

// Dispatcher is the router's root http.Handler.
type Dispatcher struct {
	routes          []Route
	wsRoutes        []Route
	handlers        map[string]http.Handler
	defaultApp      string
	faviconFile     string
	mobileRedirect  string
	desktopRedirect string
	log             *logging.Logger
}

// New validates cfg and builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if len(cfg.Routes) == 0 {
		return nil, stderrors.New("dispatch: no routes")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	d := &Dispatcher{
		handlers:        make(map[string]http.Handler, len(cfg.Routes)),
		defaultApp:      cfg.Default,
		faviconFile:     cfg.FaviconFile,
		mobileRedirect:  orDefault(cfg.MobileRedirect, "/mobile/"),
		desktopRedirect: orDefault(cfg.DesktopRedirect, "/desktop/"),
		log:             log,
	}

	for _, r := range cfg.Routes {
		if r.Name == "" || r.Handler == nil {
			return nil, fmt.Errorf("dispatch: route %q has no name or handler", r.Name)
		}
		if !strings.HasPrefix(r.Prefix, "/") || r.Prefix == "/" {
			return nil, fmt.Errorf("dispatch: route %s: invalid prefix %q", r.Name, r.Prefix)
		}
		if _, dup := d.handlers[r.Name]; dup {
			return nil, fmt.Errorf("dispatch: duplicate route %s", r.Name)
		}
		d.handlers[r.Name] = r.Handler
		d.routes = append(d.routes, r)
		if r.WebSocket {
			d.wsRoutes = append(d.wsRoutes, r)
		}
	}

	if _, ok := d.handlers[d.defaultApp]; !ok {
		return nil, fmt.Errorf("dispatch: default app %q is not a route", d.defaultApp)
	}
	return d, nil
}

// Resolve decides what to do with r without side effects.
func (d *Dispatcher) Resolve(r *http.Request) Decision {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	if websocket.IsWebSocketUpgrade(r) {
		for _, route := range d.wsRoutes {
			if strings.HasPrefix(path, route.Prefix) {
				return Decision{Action: ActionForward, Route: route.Name}
			}
		}
		return Decision{Action: ActionForward, Route: d.defaultApp}
	}

	if path == FaviconPath {
		return Decision{Action: ActionFavicon, Route: RouteFavicon}
	}

	for _, route := range d.routes {
		if strings.HasPrefix(path, route.Prefix) {
			return Decision{Action: ActionForward, Route: route.Name}
		}
	}

	if path == "/" {
		target := d.desktopRedirect
		if IsMobile(r.UserAgent()) {
			target = d.mobileRedirect
		}
		return Decision{Action: ActionRedirect, Route: RouteRedirect, Location: target}
	}

	return Decision{Action: ActionNotFound, Route: RouteNotFound}
}

// ServeHTTP dispatches r. Errors raised by a sub-app are not intercepted.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dec := d.Resolve(r)
	metrics.SetRoute(r.Context(), dec.Route)

	switch dec.Action {
	case ActionForward:
		d.handlers[dec.Route].ServeHTTP(w, r)
	case ActionFavicon:
		d.serveFavicon(w, r)
	case ActionRedirect:
		http.Redirect(w, r, dec.Location, http.StatusTemporaryRedirect)
	default:
		httputil.WriteServiceError(w, errors.NotFound("Not Found"))
	}
}

func (d *Dispatcher) serveFavicon(w http.ResponseWriter, r *http.Request) {
	if d.faviconFile != "" {
		if info, err := os.Stat(d.faviconFile); err == nil && !info.IsDir() {
			http.ServeFile(w, r, d.faviconFile)
			return
		}
	}
	d.log.WithContext(r.Context()).WithField("file", d.faviconFile).Debug("favicon not found")
	httputil.WriteServiceError(w, errors.NotFound("Favicon not found"))
}

// Routes returns the routing table in priority order.
func (d *Dispatcher) Routes() []Route {
	out := make([]Route, len(d.routes))
	copy(out, d.routes)
	return out
}

// IsMobile reports whether userAgent looks like a phone browser.
func IsMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
