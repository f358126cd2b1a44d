// Package sandview composes the sandbox execution orchestrator: a core
// service that projects browser-editor file trees into per-workspace
// sandboxes, runs package manager commands in them, and maintains live
// previews, exposed over an HTTP API.
package sandview

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sandview/core"
	"pkt.systems/sandview/httpapi"
	"pkt.systems/sandview/internal/devserver"
	"pkt.systems/sandview/internal/eventbus"
	"pkt.systems/sandview/internal/install"
	"pkt.systems/sandview/internal/lifecycle"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/internal/preview"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/internal/snapshot"
	"pkt.systems/sandview/schema"
)

// sweepInterval is how often idle sandboxes are checked for collection.
const sweepInterval = 5 * time.Minute

// Server runs the composed orchestrator.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	// Runtime provides the already-isolated execution environments.
	Runtime sandbox.Runtime
	Logger  pslog.Logger
}

// New wires the orchestrator together: snapshot store, lifecycle manager
// with restore-before-sync, installer, dev servers, previews, core
// service, and the HTTP API.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	if deps.Runtime == nil {
		return nil, schema.ErrSandboxUnavailable
	}
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	ctx := pslog.ContextWithLogger(context.Background(), logger)

	store, err := snapshot.NewStoreWithLogger(filepath.Join(cfg.Service.StateDir, "snapshots"), logger)
	if err != nil {
		return nil, err
	}

	registry := core.NewRegistry()

	// The restore hook closes over the installer so a restored snapshot
	// seeds the dependency decision table before the first install check.
	var installer *install.Installer
	restore := func(ctx context.Context, id schema.WorkspaceID, env sandbox.Env) (bool, error) {
		rec, ok, err := store.Load(id)
		if err != nil {
			metrics.RecordSnapshotRestore("error")
			return false, err
		}
		if !ok {
			metrics.RecordSnapshotRestore("miss")
			return false, nil
		}
		if err := snapshot.Restore(ctx, env, rec.Files); err != nil {
			metrics.RecordSnapshotRestore("error")
			return false, err
		}
		installer.SeedRestored(id, rec.DependencyHash)
		metrics.RecordSnapshotRestore("hit")
		return true, nil
	}

	lc, err := lifecycle.NewManager(ctx, deps.Runtime, cfg.Service.WorkspaceRoot, restore)
	if err != nil {
		return nil, err
	}
	installer = install.New(store, install.Config{
		Timeout:  cfg.Service.InstallTimeout,
		CacheDir: filepath.Join(cfg.Service.StateDir, "install-cache"),
	}, logger)

	bus := eventbus.New(logger)
	devservers := devserver.New(bus, cfg.Service.DevServerTimeout, logger)
	blobs := preview.NewBlobStore()
	previews := preview.New(bus, blobs, core.NewPreviewStarter(lc, devservers, registry), cfg.Service.DebounceQuiet, logger)

	service, err := core.NewService(core.ServiceDeps{
		Lifecycle:      lc,
		Installer:      installer,
		DevServers:     devservers,
		Previews:       previews,
		Registry:       registry,
		Logger:         logger,
		CommandTimeout: cfg.Service.CommandTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &compositeServer{
		cfg:       cfg,
		httpSrv:   httpapi.NewServer(cfg.HTTP, service, bus, blobs),
		service:   service,
		lifecycle: lc,
		logger:    logger,
	}, nil
}

type compositeServer struct {
	cfg       ServerConfig
	httpSrv   *httpapi.Server
	service   core.Service
	lifecycle *lifecycle.Manager
	logger    pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_url", s.cfg.HTTP.BaseURL,
		"http_base_path", s.cfg.HTTP.BasePath,
		"workspace_root", s.cfg.Service.WorkspaceRoot,
		"idle_timeout", s.cfg.Service.IdleTimeout,
	)
	go func() {
		if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	go s.sweepLoop(s.ctx)
	return nil
}

// sweepLoop collects idle sandboxes on a fixed cadence.
func (s *compositeServer) sweepLoop(ctx context.Context) {
	if s.cfg.Service.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if collected := s.service.Sweep(ctx, s.cfg.Service.IdleTimeout); len(collected) > 0 {
				s.logger.Info("idle sandboxes collected", "count", len(collected))
			}
		}
	}
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if s.lifecycle != nil {
		if err := s.lifecycle.CloseAll(context.Background()); err != nil {
			log.Warn("sandbox close failed", "err", err)
		} else {
			log.Info("sandboxes closed")
		}
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
