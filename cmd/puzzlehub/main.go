// Package main is the entry point of the chess puzzle hub.
//
// Commands:
//
//	puzzlehub serve            run the HTTP API
//	puzzlehub migrate up       apply pending migrations
//	puzzlehub migrate down     roll back the latest migration
//	puzzlehub migrate status   list migrations
//	puzzlehub seed [--force]   load the bundled puzzle catalog
//	puzzlehub features         show feature flags after overrides
//
// --feature name=true|false|<percent> and --feature name@user=true|false
// override FEATURE_* variables for any command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/puzzlehub/chess-puzzles/config"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/memory"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/postgres"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

var (
	logLevelFlag string
	featureFlags []string

	rootCmd = &cobra.Command{
		Use:           "puzzlehub",
		Short:         "Chess puzzle hub: catalog, attempts, streaks and achievements",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest applied migration",
		RunE:  runMigrateDown,
	}
	migrateStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE:  runMigrateStatus,
	}
	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Load the bundled puzzle catalog into an empty store",
		RunE:  runSeed,
	}
	seedForce bool
	featuresCmd = &cobra.Command{
		Use:   "features",
		Short: "List feature flags with environment and flag overrides applied",
		RunE:  runFeatures,
	}
	featuresUser string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringArrayVar(&featureFlags, "feature", nil, "override a feature flag: name=true|false|<percent> or name@user=true|false")

	seedCmd.Flags().BoolVar(&seedForce, "force", false, "replace the existing catalog")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(seedCmd)

	featuresCmd.Flags().StringVar(&featuresUser, "user", "", "also resolve each flag for this user id")
	rootCmd.AddCommand(featuresCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVE
// ══════════════════════════════════════════════════════════════════════════════

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	appLog := setupAppLogger(cfg)

	log.Info("starting puzzle hub",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"storage", string(cfg.Storage),
	)

	app, err := buildApplication(ctx, cfg, log, appLog)
	if err != nil {
		return err
	}
	defer app.storage.Close()

	errCh := app.server.StartAsync()
	log.Info("puzzle hub is running", "addr", cfg.HTTP.Addr())

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

// withDatabase runs fn against a fresh Postgres connection.
func withDatabase(cmd *cobra.Command, fn func(context.Context, *postgres.Connection, *slog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage != config.StoragePostgres {
		return errors.New("migrations require STORAGE_BACKEND=postgres")
	}
	log := setupLogger(cfg)

	conn, err := connectPostgres(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(cmd.Context(), conn, log)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withDatabase(cmd, func(ctx context.Context, conn *postgres.Connection, log *slog.Logger) error {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations applied", "count", applied)
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	return withDatabase(cmd, func(ctx context.Context, conn *postgres.Connection, log *slog.Logger) error {
		if err := postgres.NewMigrator(conn).Rollback(ctx); err != nil {
			return err
		}
		log.Info("latest migration rolled back")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withDatabase(cmd, func(ctx context.Context, conn *postgres.Connection, _ *slog.Logger) error {
		migrations, err := postgres.NewMigrator(conn).Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
		for _, mg := range migrations {
			status, appliedAt := "pending", "-"
			if mg.IsApplied {
				status = "applied"
				appliedAt = timeutil.FormatISOStr(mg.AppliedAt)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", mg.Version, mg.Name, status, appliedAt)
		}
		return w.Flush()
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SEED
// ══════════════════════════════════════════════════════════════════════════════

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage == config.StorageMemory {
		// Nothing persists; seeding only validates the bundled catalog.
		return seedCatalog(cmd.Context(), memory.NewPuzzleRepository(), timeutil.SystemClock{}, setupAppLogger(cfg), seedForce)
	}

	return withDatabase(cmd, func(ctx context.Context, conn *postgres.Connection, _ *slog.Logger) error {
		if _, err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return err
		}
		return seedCatalog(ctx, postgres.NewPuzzleRepository(conn), timeutil.SystemClock{}, setupAppLogger(cfg), seedForce)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURES
// ══════════════════════════════════════════════════════════════════════════════

func runFeatures(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printFeatures(cmd.OutOrStdout(), cfg.Features, featuresUser)
}

func printFeatures(out io.Writer, ff *config.FeatureFlags, userID string) error {
	all := ff.GetAllFeatures()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := "FEATURE\tENABLED\tROLLOUT\tDESCRIPTION"
	if userID != "" {
		header += "\tUSER " + userID
	}
	fmt.Fprintln(w, header)
	for _, name := range names {
		f := all[name]
		fmt.Fprintf(w, "%s\t%t\t%d%%\t%s", f.Name, f.Enabled, f.RolloutPercent, f.Description)
		if userID != "" {
			fmt.Fprintf(w, "\t%t", ff.IsEnabledFor(name, userID))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Observability.LogLevel = logLevelFlag
	}
	for _, override := range featureFlags {
		if err := cfg.Features.Set(override); err != nil {
			return nil, fmt.Errorf("invalid --feature %q: %w", override, err)
		}
	}
	return cfg, nil
}

// setupLogger configures the process log used for startup and shutdown.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg)}

	var handler slog.Handler
	if cfg.LogFormat() == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

func slogLevel(cfg *config.Config) slog.Level {
	if cfg.App.Debug {
		return slog.LevelDebug
	}
	switch logger.ParseLevel(cfg.Observability.LogLevel) {
	case logger.LevelDebug:
		return slog.LevelDebug
	case logger.LevelWarn:
		return slog.LevelWarn
	case logger.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupAppLogger configures the structured logger handed to components.
func setupAppLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.ParseFormat(cfg.LogFormat())
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	// Caller positions are noise in production JSON.
	opts.AddCaller = !cfg.IsProduction()

	log := logger.New(opts).With(logger.String("service", cfg.App.Name))
	logger.SetDefault(log)
	return log
}
