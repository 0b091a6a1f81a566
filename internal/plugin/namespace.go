package plugin

import (
	"sort"
	"strings"

	"github.com/pitext/router/internal/logging"
)

// Namespace is the private configuration scope of one loaded sub-app.
// Each load gets a fresh Namespace, so two apps that use the same keys never
// observe each other's values.
type Namespace struct {
	app  string
	dir  string
	vars map[string]string
	log  *logging.Logger
}

// NewNamespace builds the namespace for app. Process environment variables
// named "<APP>_<KEY>" are imported as KEY; manifest entries override them.
// environ is normally os.Environ().
func NewNamespace(app, dir string, environ []string, manifest map[string]string, log *logging.Logger) *Namespace {
	if log == nil {
		log = logging.Default()
	}
	ns := &Namespace{
		app:  app,
		dir:  dir,
		vars: make(map[string]string),
		log:  log,
	}

	prefix := EnvPrefix(app)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if name := strings.TrimPrefix(key, prefix); name != "" {
			ns.vars[name] = value
		}
	}
	for k, v := range manifest {
		ns.vars[k] = v
	}
	return ns
}

// EnvPrefix returns the environment prefix for app, e.g. "pitext-mobile" -> "PITEXT_MOBILE_".
func EnvPrefix(app string) string {
	upper := strings.ToUpper(app)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return upper + "_"
}

// App returns the app name the namespace belongs to.
func (n *Namespace) App() string { return n.app }

// Dir returns the app directory.
func (n *Namespace) Dir() string { return n.dir }

// Logger returns the router logger.
func (n *Namespace) Logger() *logging.Logger { return n.log }

// Get returns the value for key.
func (n *Namespace) Get(key string) (string, bool) {
	v, ok := n.vars[key]
	return v, ok
}

// Keys returns the namespace keys in sorted order.
func (n *Namespace) Keys() []string {
	keys := make([]string, 0, len(n.vars))
	for k := range n.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
