package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // Register postgres driver
	"golang.org/x/sync/errgroup"

	"github.com/trailmark-io/trailmark/internal/collect"
	corecfg "github.com/trailmark-io/trailmark/internal/core/config"
	"github.com/trailmark-io/trailmark/internal/funnel"
	"github.com/trailmark-io/trailmark/internal/migrations"
	"github.com/trailmark-io/trailmark/internal/provider"
	"github.com/trailmark-io/trailmark/internal/server"
	"github.com/trailmark-io/trailmark/internal/store"
	storepg "github.com/trailmark-io/trailmark/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "trailmark.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"durable", cfg.Storage.Durable.Kind,
		"session", cfg.Storage.Session.Kind,
		"provider", cfg.Provider.Kind,
		"mode", cfg.Server.Mode)

	// 2. Initialize Durable Storage
	checks := map[string]server.HealthChecker{}
	var durable store.Backend
	switch cfg.Storage.Durable.Kind {
	case "postgres":
		// Migrations run on a short-lived connection so the backend's schema
		// validation sees an initialized database.
		if err := runMigrations(cfg.Storage.Durable.DSN, cfg.Storage.Durable.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		backend, err := storepg.NewBackend(
			cfg.Storage.Durable.DSN,
			cfg.Storage.Durable.MaxOpenConns,
			cfg.Storage.Durable.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to initialize durable storage", "error", err)
			os.Exit(1)
		}
		defer backend.Close()
		durable = backend
		checks["durable_storage"] = backend
	case "memory":
		durable = store.NewMemoryBackend()
	}

	// 3. Initialize Session Storage
	sessionTTL, err := cfg.Storage.Session.SessionTTL()
	if err != nil {
		slog.Error("Invalid session TTL", "value", cfg.Storage.Session.TTL, "error", err)
		os.Exit(1)
	}
	var session store.Backend
	switch cfg.Storage.Session.Kind {
	case "redis":
		backend, err := store.NewRedisBackend(
			cfg.Storage.Session.Addr,
			cfg.Storage.Session.Password,
			cfg.Storage.Session.DB,
			sessionTTL,
		)
		if err != nil {
			slog.Error("Failed to initialize session storage", "error", err)
			os.Exit(1)
		}
		defer backend.Close()
		session = backend
		checks["session_storage"] = backend
	case "memory":
		session = store.NewMemoryBackendTTL(sessionTTL)
	}

	// 4. Load Funnel Definitions
	definitions, err := funnel.LoadDefinitions(cfg.Funnels.ConfigDir)
	if err != nil {
		slog.Error("Failed to load funnel definitions", "dir", cfg.Funnels.ConfigDir, "error", err)
		os.Exit(1)
	}
	if cfg.Funnels.RequireFunnels && len(definitions) == 0 {
		slog.Error("No funnel definitions found", "dir", cfg.Funnels.ConfigDir)
		os.Exit(1)
	}
	for _, def := range definitions {
		slog.Info("Loaded funnel", "key", def.Key, "stages", def.TotalStages(), "fingerprint", def.Fingerprint[:12])
	}

	// 5. Initialize Provider and Dispatcher
	var sink provider.Provider
	switch cfg.Provider.Kind {
	case "log":
		sink = provider.NewLog()
	case "http":
		sink = provider.NewHTTP(cfg.Provider.Endpoint, cfg.Provider.AuthToken)
	case "clickhouse":
		ch, err := provider.NewClickHouse(
			cfg.Provider.ClickHouse.Addr,
			cfg.Provider.ClickHouse.Database,
			cfg.Provider.ClickHouse.Username,
			cfg.Provider.ClickHouse.Password,
			cfg.Provider.ClickHouse.Table,
		)
		if err != nil {
			slog.Error("Failed to initialize clickhouse provider", "error", err)
			os.Exit(1)
		}
		defer ch.Close()
		sink = ch
	}
	dispatcher := provider.NewDispatcher(sink, cfg.Provider.QueueSize)

	// 6. Initialize Collection Service
	collectSvc := collect.NewService(
		durable,
		session,
		dispatcher,
		definitions,
		cfg.Site.InternalDomains,
		cfg.EffectiveMaxEventKeys(),
		cfg.Server.MaxBodySizeKB,
	)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode, checks)
	collectSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

func runMigrations(dsn string, autoMigrate bool) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres database: %w", err)
	}
	defer db.Close()
	return migrations.Run(db, autoMigrate)
}
