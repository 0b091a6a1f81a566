// Package loader builds sub-apps from their directories.
//
// Each sub-app directory carries an app.yaml manifest listing named exports.
// Load picks the preferred export (falling back to "app"), gives the app a
// private plugin.Namespace and builds its handler with the registered mount
// kind. LoadAll loads every configured app and substitutes a placeholder for
// any app that fails, so one broken app never prevents start-up.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pitext/router/internal/apps/stub"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
	"github.com/pitext/router/internal/plugin"
)

// ManifestFile is the entry file every sub-app directory must contain.
const ManifestFile = "app.yaml"

// FallbackExport is used when the preferred export is absent.
const FallbackExport = "app"

var (
	// ErrEntryNotFound is returned when the app directory has no manifest.
	ErrEntryNotFound = errors.New("loader: app.yaml not found")
	// ErrNoExport is returned when neither the preferred nor the fallback export exists.
	ErrNoExport = errors.New("loader: no app export found")
)

// Status is the outcome of loading an app.
type Status string

const (
	StatusLoaded   Status = "loaded"
	StatusDegraded Status = "degraded"
)

// Manifest is the parsed app.yaml.
type Manifest struct {
	Exports map[string]plugin.Export `yaml:"exports"`
	Env     map[string]string        `yaml:"env"`
}

// App is a loaded sub-app.
type App struct {
	Name    string
	Dir     string
	Export  string
	Spec    plugin.Export
	Handler http.Handler
	Status  Status
	Err     error

	// Namespace is nil for degraded apps.
	Namespace *plugin.Namespace
}

// Kind returns the mount kind, or "stub" for a degraded app.
func (a *App) Kind() string {
	if a.Status == StatusDegraded {
		return stub.Kind
	}
	return a.Spec.Kind
}

// Spec names an app to load.
type Spec struct {
	Name   string
	Dir    string
	Export string
}

// Loader loads sub-apps.
type Loader struct {
	log     *logging.Logger
	metrics *metrics.Metrics
	environ func() []string
}

// Option configures a Loader.
type Option func(*Loader)

// WithMetrics records load outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithEnviron replaces os.Environ as the source of namespace variables.
func WithEnviron(fn func() []string) Option {
	return func(l *Loader) { l.environ = fn }
}

// New creates a Loader.
func New(log *logging.Logger, opts ...Option) *Loader {
	if log == nil {
		log = logging.Default()
	}
	l := &Loader{log: log, environ: os.Environ}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ReadManifest parses dir/app.yaml.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrEntryNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

// SelectExport returns the preferred export, else the "app" export.
func (m *Manifest) SelectExport(preferred string) (string, plugin.Export, error) {
	if preferred != "" {
		if exp, ok := m.Exports[preferred]; ok {
			return preferred, exp, nil
		}
	}
	if exp, ok := m.Exports[FallbackExport]; ok {
		return FallbackExport, exp, nil
	}
	return "", plugin.Export{}, ErrNoExport
}

// Load builds the app in dir under name. preferred is the export looked up
// first; "app" is the fallback.
func (l *Loader) Load(dir, name, preferred string) (*App, error) {
	l.log.WithApp(name).WithField("dir", dir).Info("loading sub-app")

	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	exportName, export, err := manifest.SelectExport(preferred)
	if err != nil {
		return nil, fmt.Errorf("%w in %s (wanted %q or %q)", err, filepath.Join(dir, ManifestFile), preferred, FallbackExport)
	}

	factory, err := plugin.Lookup(export.Kind)
	if err != nil {
		return nil, fmt.Errorf("export %q: %w", exportName, err)
	}

	ns := plugin.NewNamespace(name, dir, l.environ(), manifest.Env, l.log)
	handler, err := factory(ns, export)
	if err != nil {
		return nil, fmt.Errorf("build %s export %q: %w", export.Kind, exportName, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("build %s export %q: factory returned no handler", export.Kind, exportName)
	}

	return &App{
		Name:      name,
		Dir:       dir,
		Export:    exportName,
		Spec:      export,
		Handler:   handler,
		Status:    StatusLoaded,
		Namespace: ns,
	}, nil
}

// LoadAll loads every spec. Failures are logged and replaced by a placeholder
// app; the returned Set always contains every requested app.
func (l *Loader) LoadAll(ctx context.Context, specs []Spec) *Set {
	set := &Set{apps: make(map[string]*App, len(specs))}

	for _, spec := range specs {
		var (
			app *App
			err error
		)
		if err = ctx.Err(); err == nil {
			app, err = l.Load(spec.Dir, spec.Name, spec.Export)
		}

		if err != nil {
			l.log.WithApp(spec.Name).WithField("dir", spec.Dir).WithError(err).Error("sub-app failed to load, serving placeholder")
			app = &App{
				Name:    spec.Name,
				Dir:     spec.Dir,
				Handler: stub.New(spec.Name, err),
				Status:  StatusDegraded,
				Err:     err,
			}
		}

		if l.metrics != nil {
			l.metrics.RecordAppLoad(spec.Name, string(app.Status))
		}
		set.apps[spec.Name] = app
		set.order = append(set.order, spec.Name)
	}
	return set
}

// Set is the immutable result of LoadAll.
type Set struct {
	apps  map[string]*App
	order []string
}

// Get returns the app named name.
func (s *Set) Get(name string) (*App, bool) {
	app, ok := s.apps[name]
	return app, ok
}

// Handler returns the handler for name, or nil.
func (s *Set) Handler(name string) http.Handler {
	if app, ok := s.apps[name]; ok {
		return app.Handler
	}
	return nil
}

// All returns the apps in load order.
func (s *Set) All() []*App {
	out := make([]*App, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.apps[name])
	}
	return out
}

// Degraded returns the names of apps that failed to load, sorted.
func (s *Set) Degraded() []string {
	var out []string
	for name, app := range s.apps {
		if app.Status == StatusDegraded {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
