// Package daemon assembles the provisioning service, its validators, the
// auto-provisioning engine and the HTTP endpoints from a configuration.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/isometry/dirprov/internal/autoprov"
	"github.com/isometry/dirprov/internal/cache"
	"github.com/isometry/dirprov/internal/config"
	"github.com/isometry/dirprov/internal/dit"
	"github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/metrics"
	"github.com/isometry/dirprov/internal/provisioning"
	"github.com/isometry/dirprov/internal/quota"
)

// Options configure New. Only Config is required.
type Options struct {
	Config *config.Config
	// Directory replaces the client built from Config.Directory. It is not
	// closed by Close.
	Directory ldap.Client
	// Factory replaces the external directory factory.
	Factory autoprov.DirectoryFactory
	// Registry defaults to a new registry with Go and process collectors.
	Registry *prometheus.Registry
	Clock    clock.Clock
}

// Daemon owns every long-lived component.
type Daemon struct {
	cfg     *config.Config
	logCtx  context.Context
	dir     ldap.Client
	ownsDir bool

	caches   *cache.Set
	svc      *provisioning.Service
	prov     *autoprov.Provisioner
	engine   *autoprov.Engine
	registry *prometheus.Registry
	handler  http.Handler
}

// New connects to the directory and wires the components. ctx carries
// the loggers and bounds background work of the caches and pool.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("daemon: configuration is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	tree, err := dit.New(cfg.DIT)
	if err != nil {
		return nil, fmt.Errorf("dit: %w", err)
	}
	classes, err := cfg.Schema.ObjectClasses()
	if err != nil {
		return nil, err
	}

	d := &Daemon{cfg: cfg, logCtx: ctx, dir: opts.Directory}
	if d.dir == nil {
		conn := cfg.Directory.ConnectionConfig()
		conn.Clock = clk
		d.dir, err = ldap.NewClient(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to directory: %w", err)
		}
		d.ownsDir = true
	}

	d.caches = cache.NewSet(ctx, cfg.Cache, clk)
	d.svc, err = provisioning.New(ctx, provisioning.Options{
		Directory:          d.dir,
		DIT:                tree,
		Caches:             d.caches,
		ExtraObjectClasses: classes,
		Clock:              clk,
	})
	if err != nil {
		d.closeDir()
		return nil, err
	}

	d.registry = opts.Registry
	if d.registry == nil {
		d.registry = prometheus.NewRegistry()
		d.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(d.registry)
	d.registry.MustRegister(metrics.NewCacheCollector(d.caches))

	d.svc.AddValidator(quota.NewDomainAccountLimit(d.svc, cfg.Quota, clk, m))
	d.svc.AddValidator(quota.NewCOSFeatureLimit(d.svc, m))

	factory := opts.Factory
	if factory == nil {
		factory = autoprov.NewDirectoryFactory(cfg.Directory.ConnectionConfig())
	}
	d.prov, err = autoprov.New(autoprov.Options{
		Service: d.svc,
		Factory: factory,
		Clock:   clk,
		Metrics: m,
	})
	if err != nil {
		d.closeDir()
		return nil, err
	}
	d.svc.SetAutoProvisioner(d.prov)

	d.engine, err = autoprov.NewEngine(d.prov, cfg.AutoProv)
	if err != nil {
		d.closeDir()
		return nil, err
	}

	d.handler = NewRouter(ctx, d.dir, d.registry)

	tflog.Info(ctx, "Provisioning service ready", map[string]any{
		"node_id":           d.engine.NodeID(),
		"scheduled_domains": cfg.AutoProv.ScheduledDomains,
		"caches_enabled":    cfg.Cache.Enabled,
	})
	return d, nil
}

func (d *Daemon) Service() *provisioning.Service     { return d.svc }
func (d *Daemon) Provisioner() *autoprov.Provisioner { return d.prov }
func (d *Daemon) Engine() *autoprov.Engine           { return d.engine }
func (d *Daemon) Handler() http.Handler              { return d.handler }

// Run starts the auto-provisioning engine and, when enabled, the metrics
// listener. It returns when ctx is done, the engine stops fatally or the
// listener fails, after shutting both down.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.engine.Start(ctx)
	engineDone := make(chan error, 1)
	go func() { engineDone <- d.engine.Wait() }()

	var srv *http.Server
	serveErr := make(chan error, 1)
	if d.cfg.Metrics.Enabled {
		srv = &http.Server{
			Addr:              d.cfg.Metrics.Listen,
			Handler:           d.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		tflog.Info(d.logCtx, "Serving metrics", map[string]any{"listen": d.cfg.Metrics.Listen})
	}

	var runErr error
	engineStopped := false
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("metrics listener: %w", err)
	case err := <-engineDone:
		engineStopped = true
		if err != nil {
			runErr = fmt.Errorf("auto-provisioning engine: %w", err)
		}
	}

	tflog.Info(d.logCtx, "Shutting down", map[string]any{"timeout": d.cfg.ShutdownTimeout.String()})
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ShutdownTimeout)
	defer stop()

	d.engine.Kill()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("metrics listener shutdown: %w", err))
		}
	}
	if !engineStopped {
		select {
		case <-engineDone:
		case <-shutdownCtx.Done():
			runErr = errors.Join(runErr, errors.New("auto-provisioning engine did not stop in time"))
		}
	}
	return runErr
}

// Close drops cached state and closes a directory client opened by New.
func (d *Daemon) Close() error {
	err := d.svc.Close()
	return errors.Join(err, d.closeDir())
}

func (d *Daemon) closeDir() error {
	if !d.ownsDir {
		return nil
	}
	return d.dir.Close()
}
