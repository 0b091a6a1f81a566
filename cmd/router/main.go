// Package main runs the PiText router: one HTTP listener that dispatches every
// request to exactly one of the configured sub-apps, plus an admin listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitext/router/internal/admin"
	"github.com/pitext/router/internal/config"
	"github.com/pitext/router/internal/dispatch"
	"github.com/pitext/router/internal/health"
	"github.com/pitext/router/internal/loader"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
	"github.com/pitext/router/internal/middleware"

	// Mount kinds available to app.yaml manifests.
	_ "github.com/pitext/router/internal/apps/echo"
	_ "github.com/pitext/router/internal/apps/proxy"
	_ "github.com/pitext/router/internal/apps/static"
)

const serviceName = "pitext-router"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to router config (default config/router.yaml)")
	addr := flag.String("addr", "", "Public listen address")
	adminAddr := flag.String("admin-addr", "", "Admin listen address, \"off\" to disable")
	baseDir := flag.String("base-dir", "", "Directory the app directories are resolved against")
	flag.Parse()

	// Environment variable overrides
	if *configPath == "" {
		*configPath = os.Getenv("ROUTER_CONFIG")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
		if *adminAddr == "off" {
			cfg.AdminAddr = ""
		}
	}
	if *baseDir != "" {
		cfg.BaseDir = *baseDir
	}

	log := logging.New(serviceName, cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("router exited")
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(true)
	rt, err := newRouter(ctx, cfg, log, m)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		adminServer = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           rt.admin,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if err := rt.prober.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", cfg.Addr).Info("router listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server: %w", err)
		}
	}()
	if adminServer != nil {
		go func() {
			log.WithField("addr", cfg.AdminAddr).Info("admin listening")
			if err := adminServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case runErr = <-errCh:
		log.WithError(runErr).Error("listener failed, shutting down")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("public server shutdown")
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("admin server shutdown")
		}
	}
	cancel()
	rt.prober.Stop(shutdownCtx)

	log.Info("router stopped")
	return runErr
}

// router is the assembled process: public handler, admin handler and prober.
type router struct {
	handler http.Handler
	admin   http.Handler
	apps    *loader.Set
	prober  *health.Prober
}

// newRouter loads every configured sub-app and wires the public middleware
// chain and the admin endpoints. A sub-app that fails to load is replaced by
// a placeholder; only configuration errors are fatal.
func newRouter(ctx context.Context, cfg *config.Config, log *logging.Logger, m *metrics.Metrics) (*router, error) {
	specs := make([]loader.Spec, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		specs = append(specs, loader.Spec{Name: app.Name, Dir: cfg.AppDir(app), Export: app.Export})
	}
	apps := loader.New(log, loader.WithMetrics(m)).LoadAll(ctx, specs)
	if degraded := apps.Degraded(); len(degraded) > 0 {
		log.WithField("apps", degraded).Warn("starting with degraded sub-apps")
	}

	routes := make([]dispatch.Route, 0, len(cfg.Apps))
	defaultApp := ""
	for _, app := range cfg.Apps {
		routes = append(routes, dispatch.Route{
			Name:      app.Name,
			Prefix:    app.Prefix,
			WebSocket: app.WebSocket,
			Handler:   apps.Handler(app.Name),
		})
		if app.Default {
			defaultApp = app.Name
		}
	}

	d, err := dispatch.New(dispatch.Config{
		Routes:          routes,
		Default:         defaultApp,
		FaviconFile:     cfg.FaviconPath(),
		MobileRedirect:  cfg.Redirect.Mobile,
		DesktopRedirect: cfg.Redirect.Desktop,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	var limiter func(http.Handler) http.Handler
	if cfg.RateLimit.RequestsPerSecond > 0 {
		rl := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.CleanupInterval, log, m)
		rl.StartCleanup(ctx, cfg.RateLimit.CleanupInterval)
		limiter = rl.Handler
	}

	handler := middleware.Chain(d,
		middleware.NewTracingMiddleware(log).Handler,
		middleware.MetricsMiddleware(m),
		middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins).Wrap(),
		limiter,
	)

	var targets []health.Target
	if cfg.Health.Schedule != "" {
		targets = health.TargetsFromSet(apps)
	}
	prober, err := health.NewProber(health.Config{
		Targets:  targets,
		Schedule: cfg.Health.Schedule,
		Timeout:  cfg.Health.Timeout,
		Logger:   log,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}

	adminHandler := admin.New(admin.Config{
		Service: serviceName,
		Version: version,
		Apps:    apps,
		Routes:  d.Routes(),
		Prober:  prober,
		Metrics: m,
		Logger:  log,
	})

	return &router{
		handler: handler,
		admin:   adminHandler,
		apps:    apps,
		prober:  prober,
	}, nil
}
