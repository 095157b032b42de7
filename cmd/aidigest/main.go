package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/AIDigest/internal/aggregator"
	"github.com/TobiSchelling/AIDigest/internal/config"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/metrics"
	"github.com/TobiSchelling/AIDigest/internal/pipeline"
	"github.com/TobiSchelling/AIDigest/internal/registry"
	"github.com/TobiSchelling/AIDigest/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aidigest",
	Short:   "Daily AI and crypto digests",
	Long:    "AIDigest aggregates feeds, repositories, markets and chats, tags them by topic, and summarizes each day into a digest.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = newLogger(slog.LevelInfo)
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger = newLogger(cfg.Logging.SlogLevel())
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historicalCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if verbose {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aidigest", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/aidigest/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, API keys, and the LLM provider.")
		return nil
	},
}

// buildRuntime constructs every configured plugin. Metrics are registered
// with the default Prometheus registry when enabled.
func buildRuntime(ctx context.Context) (*pipeline.Runtime, error) {
	var m *metrics.Metrics
	if cfg.Settings.Metrics {
		m = metrics.New(prometheus.DefaultRegisterer)
	}
	return pipeline.Build(ctx, cfg, registry.Default(), logger, m)
}

// openDB returns the sqlite storage of rt.
func openDB(rt *pipeline.Runtime) (*database.DB, error) {
	db, ok := rt.Storage().(*database.DB)
	if !ok {
		return nil, errors.New("no sqlite storage configured")
	}
	return db, nil
}

func printSteps(res *pipeline.Result) {
	for i, step := range res.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(res.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

func finish(res *pipeline.Result) error {
	printSteps(res)
	if res.Failed() {
		return errors.New("one or more steps failed")
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		db, err := openDB(rt)
		if err != nil {
			return err
		}

		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n", database.GetToday())
		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Items:")
		fmt.Printf("  Total stored: %d\n", stats.TotalItems)
		fmt.Printf("  Days with data: %d\n", stats.DaysWithItems)
		if len(stats.ItemsByType) > 0 {
			types := make([]string, 0, len(stats.ItemsByType))
			for t := range stats.ItemsByType {
				types = append(types, t)
			}
			sort.Slice(types, func(i, j int) bool { return stats.ItemsByType[types[i]] > stats.ItemsByType[types[j]] })
			for _, t := range types {
				fmt.Printf("  %s: %d\n", t, stats.ItemsByType[t])
			}
		}
		fmt.Println("\nSummaries:")
		fmt.Printf("  Total: %d\n", stats.Summaries)
		if stats.LatestSummary != "" {
			fmt.Printf("  Latest: %s\n", database.FormatDayDisplay(stats.LatestSummary))
		}
		fmt.Println("\nSources:")
		for _, s := range rt.Aggregator.Sources() {
			fmt.Printf("  %s (every %s)\n", s.Name(), rt.Interval(s.Name()))
		}
		return nil
	},
}

// --- fetch command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch [source]",
	Short: "Fetch and store items from one or every configured source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return finish(rt.Fetch(cmd.Context(), name))
	},
}

// --- run command ---

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: fetch sources on their intervals and summarize daily",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if dryRun {
			printSteps(rt.DryRun())
			return nil
		}
		if cfg.Settings.RunOnce {
			if err := finish(rt.RunOnce(ctx, cfg.Settings.OnlyFetch)); err != nil {
				return err
			}
			fmt.Println("\nRun complete! Run 'aidigest serve' to view the digest.")
			return nil
		}

		if cfg.Settings.Metrics {
			if db, err := openDB(rt); err == nil {
				srv, err := server.New(db, server.WithLogger(logger))
				if err != nil {
					return err
				}
				go func() {
					if err := server.Serve(ctx, srv, cfg.Server.Port); err != nil {
						logger.Error("server stopped", "error", err)
					}
				}()
			}
		}

		sched := pipeline.NewScheduler(rt,
			pipeline.WithSummaryHour(cfg.Settings.SummaryHour),
			pipeline.WithOnlyFetch(cfg.Settings.OnlyFetch),
			pipeline.WithSnapshotWatch(true),
		)
		fmt.Println("Scheduler running. Press Ctrl+C to stop")
		return sched.Run(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

// --- historical command ---

var (
	histSource    string
	histFilter    aggregator.DateFilter
	histOnlyFetch bool
)

var historicalCmd = &cobra.Command{
	Use:   "historical",
	Short: "Backfill past days from historical sources and summarize them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if histFilter.IsZero() {
			return errors.New("one of --date, --before or --after is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.Historical(ctx, histSource, histFilter, histOnlyFetch || cfg.Settings.OnlyFetch)
		if res != nil {
			printSteps(res)
		}
		if err != nil {
			return err
		}
		if res.Failed() {
			return errors.New("one or more steps failed")
		}
		return nil
	},
}

func init() {
	f := historicalCmd.Flags()
	f.StringVar(&histSource, "source", "", "Only backfill this source")
	f.StringVar(&histFilter.During, "date", "", "Backfill a single day (YYYY-MM-DD)")
	f.StringVar(&histFilter.During, "during", "", "Alias for --date")
	f.StringVar(&histFilter.Before, "before", "", "Backfill every day up to and including this day")
	f.StringVar(&histFilter.After, "after", "", "Backfill every day from this day through today")
	f.BoolVar(&histOnlyFetch, "only-fetch", false, "Store items without generating summaries")
}

// --- generate command ---

var generateDay string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the summary for yesterday, or for --date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if generateDay != "" {
			if _, err := database.ParseDay(generateDay); err != nil {
				return err
			}
			return finish(rt.GenerateDay(ctx, generateDay))
		}
		return finish(rt.Generate(ctx))
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateDay, "date", "", "Day to summarize (YYYY-MM-DD)")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		db, err := openDB(rt)
		if err != nil {
			return err
		}

		srv, err := server.New(db, server.WithLogger(logger))
		if err != nil {
			return err
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}
