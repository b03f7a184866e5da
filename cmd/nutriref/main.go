package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nutriref/nutriref/internal/catalog"
	"github.com/nutriref/nutriref/internal/config"
	"github.com/nutriref/nutriref/internal/domain/diet"
	"github.com/nutriref/nutriref/internal/platform/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "nutriref",
		Short:        "Diet reference data: diagnoses, foods and daily meal plans",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(dbCmd())
	return rootCmd
}

// newLogger writes JSON lines, or console output when ENV=development.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	level, err := cfg.Level()
	if err != nil {
		level = zerolog.InfoLevel
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config, schema string) (*pgxpool.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		Schema:      schema,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema, dir := migrateFlags(cmd, cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	addMigrateFlags(upCmd)
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema, dir := migrateFlags(cmd, cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	addMigrateFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func addMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
	cmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
}

func migrateFlags(cmd *cobra.Command, cfg *config.Config) (schema, dir string) {
	schema, _ = cmd.Flags().GetString("schema")
	dir, _ = cmd.Flags().GetString("dir")
	if schema == "" {
		schema = cfg.DBSchema
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	return schema, dir
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and load diet catalogs",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a catalog without touching the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			uri, format, err := catalogSource(cmd, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			c, err := opener(cfg).Load(cmd.Context(), uri, format)
			var ve *catalog.ValidationError
			if errors.As(err, &ve) {
				for _, is := range ve.Issues {
					fmt.Fprintf(out, "ERROR   %s\n", is)
				}
			}
			if err != nil {
				return err
			}
			for _, w := range c.Warnings() {
				fmt.Fprintf(out, "WARNING %s\n", w)
			}
			s := c.Stats()
			fmt.Fprintf(out, "Catalog OK: %d diagnoses, %d relations, %d daily plans, %d ingredients.\n",
				s.Diagnoses, s.Relations, s.DailyPlans, s.Ingredients)
			return nil
		},
	}
	addSourceFlags(validateCmd)
	cmd.AddCommand(validateCmd)

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Reconcile the store with a catalog and verify the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			uri, format, err := catalogSource(cmd, cfg)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			strict, _ := cmd.Flags().GetBool("strict")
			metricsFile, _ := cmd.Flags().GetString("metrics-file")
			if metricsFile == "" {
				metricsFile = cfg.MetricsFile
			}
			return runLoad(cmd.Context(), cfg, loadOptions{
				uri:         uri,
				format:      format,
				dryRun:      dryRun,
				strict:      strict,
				metricsFile: metricsFile,
				out:         cmd.OutOrStdout(),
			})
		},
	}
	addSourceFlags(loadCmd)
	loadCmd.Flags().Bool("dry-run", false, "Load into an in-memory store instead of Postgres")
	loadCmd.Flags().Bool("strict", false, "Exit non-zero when verification finds a mismatch")
	loadCmd.Flags().String("metrics-file", "", "Write load metrics to this textfile (default METRICS_FILE)")
	cmd.AddCommand(loadCmd)

	return cmd
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "Catalog file path")
	cmd.Flags().String("uri", "", "Catalog URI: path, file://path or s3://bucket/key (default CATALOG_URI)")
	cmd.Flags().String("format", "", "Catalog format: auto, json or yaml (default CATALOG_FORMAT)")
	cmd.MarkFlagsMutuallyExclusive("file", "uri")
}

func catalogSource(cmd *cobra.Command, cfg *config.Config) (string, catalog.Format, error) {
	uri, _ := cmd.Flags().GetString("file")
	if uri == "" {
		uri, _ = cmd.Flags().GetString("uri")
	}
	if uri == "" {
		uri = cfg.CatalogURI
	}
	if uri == "" {
		return "", "", fmt.Errorf("--file, --uri or CATALOG_URI is required")
	}
	name, _ := cmd.Flags().GetString("format")
	if name == "" {
		name = cfg.CatalogFormat
	}
	format, err := catalog.ParseFormat(name)
	if err != nil {
		return "", "", err
	}
	return uri, format, nil
}

func opener(cfg *config.Config) *catalog.Opener {
	return catalog.NewOpener(catalog.S3Options{
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
}

type loadOptions struct {
	uri         string
	format      catalog.Format
	dryRun      bool
	strict      bool
	metricsFile string
	out         io.Writer
}

func runLoad(ctx context.Context, cfg *config.Config, opts loadOptions) error {
	logger := newLogger(cfg, opts.out)

	c, err := opener(cfg).Load(ctx, opts.uri, opts.format)
	if err != nil {
		logger.Error().Err(err).Str("uri", opts.uri).Msg("failed to read catalog")
		return err
	}
	for _, w := range c.Warnings() {
		logger.Warn().Str("diagnosis", w.Diagnosis).Msg(w.Message)
	}

	var store *diet.Store
	if opts.dryRun {
		store = diet.NewMemoryStore()
		logger.Info().Msg("dry run: loading into an in-memory store")
	} else {
		pool, err := openPool(ctx, cfg, cfg.DBSchema)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		store = diet.NewPGStore(pool)
	}

	var metrics *catalog.Metrics
	if opts.metricsFile != "" {
		metrics = catalog.NewMetrics()
	}

	summary, err := catalog.NewReconciler(store, logger, metrics).Reconcile(ctx, c)
	if err != nil {
		if summary != nil {
			logger.Warn().EmbedObject(summary).Msg("partial load summary")
		}
		return err
	}

	result, err := catalog.NewVerifier(store, logger, metrics).Verify(ctx, summary)
	if err != nil {
		return err
	}
	if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
		logger.Error().Err(err).Msg("failed to write metrics")
	}
	if opts.strict {
		return result.Err()
	}
	return nil
}

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Ping the database and show pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, cfg.DBSchema)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := db.Check(ctx, pool, 5*time.Second)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "healthy=%t total=%d idle=%d acquired=%d max=%d\n",
				stats.Healthy, stats.TotalConns, stats.IdleConns, stats.AcquiredConns, stats.MaxConns)
			return err
		},
	})
	return cmd
}
