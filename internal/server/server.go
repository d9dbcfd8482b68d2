// Package server orchestrates all components: NATS client, DB, almanac, resolver, dispatch
// engine, registration and HTTP endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/julienschmidt/httprouter"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/agent-router/internal/config"
	"github.com/morezero/agent-router/pkg/almanac"
	"github.com/morezero/agent-router/pkg/bootstrap"
	"github.com/morezero/agent-router/pkg/commsutil"
	"github.com/morezero/agent-router/pkg/db"
	"github.com/morezero/agent-router/pkg/dispatch"
	"github.com/morezero/agent-router/pkg/events"
	"github.com/morezero/agent-router/pkg/registration"
	"github.com/morezero/agent-router/pkg/resolver"
	"github.com/morezero/agent-router/pkg/storage"
	"github.com/morezero/agent-router/pkg/transport"
)

const logPrefix = "server:server"

// Server is the agent-router orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	commsCheck connChecker
	db         pinger
	engine     *dispatch.Engine
	manager    *registration.Manager
	httpServer *http.Server
}

// SetupLogging installs the default slog handler for level ("debug", "info", "warn", "error").
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting agent-router for %s", logPrefix, cfg.AgentAddress))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}
	defer s.close()

	// Step 1: Load bootstrap config
	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", logPrefix, err)
	}
	resolved := bootstrap.CreateResolvedBootstrap(bootstrapCfg)

	// Step 2: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	s.commsCheck = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 3: Connect to database (optional)
	var repo *db.Repository
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool
		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
			if _, err := db.SeedBootstrap(ctx, pool, cfg.BootstrapFile); err != nil {
				return fmt.Errorf("%s - failed to seed bootstrap names: %w", logPrefix, err)
			}
		}
		repo = db.NewRepository(pool)
		s.db = repo
	}

	publisher := events.NewCommsPublisher(nc, nil)

	// Step 4: Almanac. Serve one locally when RUN_ALMANAC is set, otherwise use the
	// remote one on ALMANAC_SUBJECT.
	var (
		svc          *almanac.Service
		registrar    registration.Registrar
		localRecords resolver.RecordLookup
		names        []resolver.NameLookup
	)
	if cfg.RunAlmanac {
		svc = almanac.NewService(almanac.Params{
			Store:        almanac.NewRepositoryStore(repo),
			Fee:          cfg.Fee(),
			RecordTTL:    cfg.RecordTTL(),
			MaxEndpoints: cfg.MaxEndpoints,
		})
		sub, err := almanac.NewDispatcher(svc).Subscribe(ctx, nc, cfg.AlmanacSubject)
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, cfg.AlmanacSubject, err)
		}
		defer sub.Unsubscribe()
		registrar, localRecords = svc, svc
		names = append(names, svc)
	} else {
		client := almanac.NewCommsClient(nc, almanac.CommsClientOpts{
			Subject: cfg.AlmanacSubject,
			Sender:  cfg.AgentAddress,
			Timeout: cfg.AlmanacRequestTimeout,
		})
		registrar, localRecords = client, cachedRecords(cfg, client)
		names = append(names, client)
	}

	// Step 5: Resolver
	records := []resolver.RecordLookup{localRecords}
	if base := cfg.AlmanacAPIBase(); base != "" {
		api := almanac.NewAPIClient(base, &http.Client{Timeout: cfg.AlmanacRequestTimeout})
		records = append(records, cachedRecords(cfg, api))
		names = append(names, api)
		slog.Info(fmt.Sprintf("%s - Using almanac API at %s", logPrefix, base))
	}
	res := NewResolver(ResolverParams{
		Bootstrap:    resolved,
		Records:      records,
		Names:        names,
		MaxEndpoints: cfg.MaxEndpoints,
	})

	// Step 6: Dispatch engine
	var kv storage.KV = storage.NewMemory()
	if repo != nil {
		kv = storage.NewRepositoryKV(repo, cfg.AgentAddress)
	}
	tpool := transport.NewPool(cfg.COMMSName)
	tpool.Add(cfg.COMMSURL, nc)
	defer tpool.Close()
	engine, signer, err := NewEngine(cfg, EngineParams{
		Resolver:  res,
		Transport: transport.NewRouter(transport.RouterParams{Pool: tpool}),
		Storage:   kv,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}
	s.engine = engine

	inbox, err := transport.SubscribeInbox(ctx, nc, cfg.AgentAddress, engine)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe inbox: %w", logPrefix, err)
	}
	defer inbox.Unsubscribe()

	// Step 7: Registration
	eps, err := cfg.Endpoints()
	if err != nil {
		return err
	}
	protocols := make([]string, 0)
	for _, p := range engine.Protocols() {
		protocols = append(protocols, string(p.Digest()))
	}
	s.manager = registration.NewManager(registration.Params{
		Registrar:      registrar,
		Address:        cfg.AgentAddress,
		Endpoints:      eps,
		Protocols:      protocols,
		Fee:            cfg.Fee(),
		Signer:         signer,
		UpdateInterval: cfg.RegistrationUpdateInterval,
		RetryInterval:  cfg.RegistrationRetryInterval,
		Publisher:      publisher,
	})

	// Step 8: HTTP submit, almanac API and health endpoints
	router := httprouter.New()
	transport.RegisterRoutes(router, engine)
	if svc != nil {
		almanac.RegisterRoutes(router, svc)
	}
	s.routes(router)
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: withCORS(cfg.AllowedOrigins, router), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return s.manager.Run(gctx) })
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})

	slog.Info(fmt.Sprintf("%s - agent-router is ready", logPrefix))

	// Wait for shutdown signal or a component failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
	case <-gctx.Done():
		slog.Error(fmt.Sprintf("%s - component stopped, shutting down", logPrefix))
	}

	// Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// cachedRecords puts an LRU in front of a remote record lookup unless caching is disabled.
func cachedRecords(cfg *config.Config, lookup resolver.RecordLookup) resolver.RecordLookup {
	if cfg.AlmanacCacheSize == 0 {
		return lookup
	}
	c, err := resolver.NewCachedLookup(lookup, cfg.AlmanacCacheSize, cfg.AlmanacCacheTTL)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - almanac cache disabled: %v", logPrefix, err))
		return lookup
	}
	return c
}

func (s *Server) close() {
	if s.nc != nil {
		s.nc.Drain()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
