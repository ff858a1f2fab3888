package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/lithodex/lithodex/internal/config"
	"github.com/lithodex/lithodex/internal/importer"
	"github.com/lithodex/lithodex/internal/logging"
	"github.com/lithodex/lithodex/internal/store"
	syncer "github.com/lithodex/lithodex/internal/sync"
	"github.com/lithodex/lithodex/internal/upstream"
	"github.com/lithodex/lithodex/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"upstream_base_url", cfg.Upstream.BaseURL,
		"sync_page_size", cfg.Sync.PageSize,
		"import_batch_size", cfg.Import.BatchSize,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	st := store.New(pool)
	if err := st.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// The upstream client is constructed once here and injected; it owns
	// its own cache and configuration.
	proxy, err := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		Token:          cfg.Upstream.Token,
		Timeout:        cfg.Upstream.Timeout,
		MaxAttempts:    cfg.Upstream.MaxAttempts,
		RetryBaseDelay: cfg.Upstream.RetryBaseDelay,
		CacheTTL:       cfg.Upstream.CacheTTL,
	})
	if err != nil {
		slog.Error("failed to configure upstream client", "error", err)
		os.Exit(1)
	}

	orch := syncer.New(st, proxy, syncer.Config{
		PageSize:           cfg.Sync.PageSize,
		PageErrorThreshold: cfg.Sync.PageErrorThreshold,
	})
	imp := importer.New(st, importer.Config{BatchSize: cfg.Import.BatchSize})

	server := web.NewServer(cfg, st, orch, imp, proxy)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
