/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkpress/internal/catalog"
	"github.com/friendsincode/inkpress/internal/chapter"
	"github.com/friendsincode/inkpress/internal/config"
	"github.com/friendsincode/inkpress/internal/db"
	"github.com/friendsincode/inkpress/internal/eventbus"
	"github.com/friendsincode/inkpress/internal/events"
	"github.com/friendsincode/inkpress/internal/lock"
	"github.com/friendsincode/inkpress/internal/media"
	"github.com/friendsincode/inkpress/internal/processor"
	"github.com/friendsincode/inkpress/internal/telemetry"
	"github.com/friendsincode/inkpress/internal/version"
	"github.com/friendsincode/inkpress/internal/worker"
)

// Server bundles the HTTP surface, the worker pool and their collaborators.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db       *gorm.DB
	bus      *events.Bus
	relay    *eventbus.Relay
	media    *media.Service
	catalog  *catalog.Store
	chapters *chapter.Bridge
	locker   *lock.RedisLocker
	pool     *worker.Pool
	api      *API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

var (
	_ worker.Locker        = (*lock.RedisLocker)(nil)
	_ worker.LockInspector = (*lock.RedisLocker)(nil)
	_ ChapterCatalog       = (*chapter.Bridge)(nil)
)

// New constructs the server and wires dependencies. Call Start to begin
// processing.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("inkpress-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// uploads may legitimately outlast the request timeout
			if r.Method == http.MethodPost && r.URL.Path == "/api/v1/files" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}
	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	mediaSvc, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("init media storage: %w", err)
	}
	s.media = mediaSvc

	s.catalog = catalog.New(database, s.logger)
	s.chapters = chapter.NewBridge(database, s.bus, s.logger)

	relay, err := eventbus.New(s.cfg, s.bus, s.logger)
	if err != nil {
		return fmt.Errorf("init event relay: %w", err)
	}
	s.relay = relay

	deps := worker.Deps{
		Storage:  s.media,
		Store:    s.catalog,
		Chapters: s.chapters,
		Events:   s.bus,
		Processor: processor.New(processor.Config{
			CorruptRatio:         s.cfg.CorruptRatio,
			CoverMarkers:         s.cfg.CoverMarkers,
			ThumbnailQuality:     s.cfg.ThumbnailQuality,
			ThumbnailConcurrency: s.cfg.ThumbnailConcurrency,
			MaxEntrySize:         s.cfg.MaxEntrySizeBytes(),
		}, s.logger),
	}

	if s.cfg.LockEnabled {
		locker, err := lock.NewRedisLocker(lock.Config{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			TTL:           s.cfg.LockTTL,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("init file lock: %w", err)
		}
		s.locker = locker
		s.DeferClose(locker.Close)
		deps.Locker = locker
	}

	s.pool = worker.New(WorkerConfig(s.cfg), deps, s.logger)
	s.api = NewAPI(s.pool, s.catalog, s.media, s.chapters, s.cfg.MaxUploadSizeBytes(), s.logger)
	return nil
}

// WorkerConfig maps process configuration onto the pool.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Workers:        cfg.Workers,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase,
		BackoffCap:     cfg.BackoffCap,
		AttemptTimeout: cfg.AttemptTimeout,
		RescanInterval: cfg.RescanInterval,
		ScratchRoot:    cfg.ScratchRoot,
		Extensions:     cfg.AcceptedExtensions,
		ThumbnailSizes: cfg.ThumbnailSizes,
	}
}

// Start launches the worker pool, the event relay and periodic metrics.
func (s *Server) Start(ctx context.Context) error {
	if err := s.media.CheckStorageAccess(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("archive storage not reachable yet")
	}
	if s.relay != nil {
		s.relay.Start(ctx)
	}
	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	bgCtx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Pool exposes the worker pool.
func (s *Server) Pool() *worker.Pool {
	return s.pool
}

// Close drains the pool and releases owned resources in reverse order.
func (s *Server) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
		s.bgCancel = nil
	}
	if s.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("worker pool drain incomplete")
		}
		cancel()
	}
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("event relay shutdown error")
		}
	}

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "version": version.Version}

	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = "unreachable"
	}
	if err := s.media.CheckStorageAccess(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["storage"] = "unreachable"
	}
	writeJSON(w, status, body)
}
