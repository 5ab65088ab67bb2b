// conduit-sync is the operator CLI: it runs syncs directly against the
// database, without going through the task queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/postgres"
	"github.com/custodia-labs/conduit-core/internal/config"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/services"
	"github.com/custodia-labs/conduit-core/internal/pool"
	"github.com/custodia-labs/conduit-core/internal/processor"
)

const dateLayout = "2006-01-02"

var (
	flagFull      bool
	flagForce     bool
	flagStartDate string
	flagEndDate   string
	flagBatchSize int
	flagDryRun    bool
	flagQuiet     bool
	flagDebug     bool
)

func main() {
	root := &cobra.Command{
		Use:           "conduit-sync",
		Short:         "Pull records from configured sources into the canonical store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run [source] [endpoint]",
		Short: "Run a sync for one endpoint, one source, or everything",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runSync,
	}
	runCmd.Flags().BoolVar(&flagFull, "full", false, "ignore the watermark and fetch everything")
	runCmd.Flags().BoolVar(&flagForce, "force", false, "bypass the enablement gate and the in-progress guard")
	runCmd.Flags().StringVar(&flagStartDate, "start-date", "", "window start (YYYY-MM-DD), overrides the watermark")
	runCmd.Flags().StringVar(&flagEndDate, "end-date", "", "window end (YYYY-MM-DD)")
	runCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "records per persistence batch")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "fetch and validate but persist nothing")
	runCmd.Flags().BoolVar(&flagQuiet, "quiet", false, "log warnings and errors only")
	runCmd.Flags().BoolVar(&flagDebug, "debug", false, "log at debug level")

	statusCmd := &cobra.Command{
		Use:   "status <source> <endpoint>",
		Short: "Show the watermark and recent runs for an endpoint",
		Args:  cobra.ExactArgs(2),
		RunE:  runStatus,
	}

	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage source definitions",
	}
	sourcesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured sources",
			Args:  cobra.NoArgs,
			RunE:  runSourcesList,
		},
		&cobra.Command{
			Use:   "apply <file>",
			Short: "Create or update sources from a JSON file",
			Args:  cobra.ExactArgs(1),
			RunE:  runSourcesApply,
		},
	)

	root.AddCommand(runCmd, statusCmd, sourcesCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup connects to the database and builds the engine.
func setup(ctx context.Context) (*config.Config, *postgres.DB, *services.SyncEngine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	level := slog.LevelInfo
	if flagQuiet {
		level = slog.LevelWarn
	}
	if flagDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("initialize schema: %w", err)
	}

	processors, err := processor.DefaultRegistry(cfg.Timezone)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	engine := services.NewSyncEngine(services.SyncEngineConfig{
		SourceStore: postgres.NewSourceStore(db),
		RecordStore: postgres.NewRecordStore(db),
		History:     postgres.NewSyncHistoryStore(db),
		Connectors:  connectors.NewFactory(),
		Processors:  processors,
		Pools:       pool.NewManager(cfg.Pool),
		Retry:       cfg.Retry,
		BatchSize:   cfg.BatchSize,
		Logger:      logger,
	})

	return cfg, db, engine, nil
}

func buildOptions() (domain.RunOptions, error) {
	opts := domain.RunOptions{
		BatchSize: flagBatchSize,
		DryRun:    flagDryRun,
		Force:     flagForce,
	}

	if flagFull {
		opts.Mode = domain.SyncModeFull
	}

	if flagStartDate != "" {
		t, err := time.Parse(dateLayout, flagStartDate)
		if err != nil {
			return opts, fmt.Errorf("invalid --start-date %q: %w", flagStartDate, err)
		}
		opts.WindowStart = &t
	}
	if flagEndDate != "" {
		t, err := time.Parse(dateLayout, flagEndDate)
		if err != nil {
			return opts, fmt.Errorf("invalid --end-date %q: %w", flagEndDate, err)
		}
		// Inclusive end date: cover the whole day.
		end := t.Add(24*time.Hour - time.Nanosecond)
		opts.WindowEnd = &end
	}

	if (opts.WindowStart != nil || opts.WindowEnd != nil) && flagFull {
		return opts, fmt.Errorf("--full cannot be combined with --start-date/--end-date")
	}
	if opts.WindowStart != nil || opts.WindowEnd != nil {
		opts.Mode = domain.SyncModeWindow
	}

	return opts, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts, err := buildOptions()
	if err != nil {
		return err
	}

	_, db, engine, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var runs []*domain.SyncRun
	switch len(args) {
	case 2:
		run, runErr := engine.Run(ctx, args[0], args[1], opts)
		runs = append(runs, run)
		err = runErr
	case 1:
		runs, err = runSource(ctx, engine, args[0], opts)
	default:
		runs, err = engine.RunAll(ctx, opts)
	}

	printRuns(runs)

	for _, run := range runs {
		if run != nil && run.Status == domain.RunStatusFailed {
			return fmt.Errorf("one or more runs failed")
		}
	}
	return err
}

// runSource syncs every enabled endpoint of one source.
func runSource(ctx context.Context, engine *services.SyncEngine, sourceName string, opts domain.RunOptions) ([]*domain.SyncRun, error) {
	source, err := engine.Source(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	var runs []*domain.SyncRun
	var firstErr error
	for _, ep := range source.Endpoints {
		if !ep.Enabled && !opts.Force {
			continue
		}
		run, err := engine.Run(ctx, sourceName, ep.Name, opts)
		runs = append(runs, run)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return runs, firstErr
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	flagQuiet = true
	_, db, engine, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	wm, err := engine.Status(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Printf("Endpoint:     %s/%s\n", wm.Source, wm.Endpoint)
	fmt.Printf("Status:       %s\n", orDash(string(wm.Status)))
	fmt.Printf("Last synced:  %s\n", formatTime(wm.LastSyncedAt))
	fmt.Printf("Last run:     total=%d success=%d errors=%d\n",
		wm.TotalRecords, wm.SuccessCount, wm.ErrorCount)
	if wm.ErrorMessage != "" {
		fmt.Printf("Last error:   %s\n", wm.ErrorMessage)
	}

	runs, err := postgres.NewSyncHistoryStore(db).ListRuns(ctx, args[0], args[1], 10)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Println("\nRecent runs:")
		for _, run := range runs {
			fmt.Printf("  %s  %-10s %-12s total=%-6d success=%-6d errors=%d\n",
				run.StartedAt.Format(time.RFC3339), run.Mode, run.Status,
				run.TotalRecords, run.SuccessCount, run.ErrorCount)
		}
	}
	return nil
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	flagQuiet = true
	_, db, engine, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	sources, err := engine.Sources(ctx)
	if err != nil {
		return err
	}

	for _, s := range sources {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-24s %-10s %-8s cadence=%s endpoints=%d\n",
			s.Name, s.Kind, state, s.Cadence, len(s.Endpoints))
	}
	return nil
}

func runSourcesApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	flagQuiet = true
	_, db, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var sources []*domain.Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	store := postgres.NewSourceStore(db)
	for _, s := range sources {
		if err := store.Save(ctx, s); err != nil {
			return fmt.Errorf("save source %s: %w", s.Name, err)
		}
		fmt.Printf("applied %s\n", s.Name)
	}
	return nil
}

func printRuns(runs []*domain.SyncRun) {
	for _, run := range runs {
		if run == nil {
			continue
		}
		fmt.Printf("%s/%s: %s (total=%d success=%d errors=%d, %.1fs)\n",
			run.Source, run.Endpoint, run.Status,
			run.TotalRecords, run.SuccessCount, run.ErrorCount, run.Duration())
		if run.ErrorMessage != "" {
			fmt.Printf("  error: %s\n", run.ErrorMessage)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
