package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lithodex/lithodex/internal/config"
	"github.com/lithodex/lithodex/internal/importer"
	"github.com/lithodex/lithodex/internal/logging"
	"github.com/lithodex/lithodex/internal/store"
	syncer "github.com/lithodex/lithodex/internal/sync"
	"github.com/lithodex/lithodex/internal/upstream"
)

// app holds the shared dependencies built once in PersistentPreRunE.
type app struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	store *store.Store
	orch  *syncer.Orchestrator
	imp   *importer.Importer
}

var deps *app

var rootCmd = &cobra.Command{
	Use:   "lithodexctl",
	Short: "Manage the lithodex mineral catalog",
	Long: `lithodexctl drives the lithodex ingestion pipeline from the command line.

It provides commands to synchronize the local catalog against the upstream
mineral API, bulk-load dataset exports, and inspect past runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return initApp(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if deps != nil && deps.pool != nil {
			deps.pool.Close()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initApp(ctx context.Context) error {
	_ = godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	st := store.New(pool)
	if err := st.RunMigrations(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		Token:          cfg.Upstream.Token,
		Timeout:        cfg.Upstream.Timeout,
		MaxAttempts:    cfg.Upstream.MaxAttempts,
		RetryBaseDelay: cfg.Upstream.RetryBaseDelay,
		CacheTTL:       cfg.Upstream.CacheTTL,
	})
	if err != nil {
		pool.Close()
		return fmt.Errorf("configure upstream client: %w", err)
	}

	deps = &app{
		cfg:   cfg,
		pool:  pool,
		store: st,
		orch: syncer.New(st, client, syncer.Config{
			PageSize:           cfg.Sync.PageSize,
			PageErrorThreshold: cfg.Sync.PageErrorThreshold,
		}),
		imp: importer.New(st, importer.Config{BatchSize: cfg.Import.BatchSize}),
	}

	slog.Debug("cli initialized", "upstream", cfg.Upstream.BaseURL)
	return nil
}
