// Market data daemon CLI
// This application collects daily crypto price history, maintains derived
// technical indicators, and serves a schedule-aware market summary cache.
//
// Usage:
//
//	marketd backfill [--instruments bitcoin,ethereum]
//	marketd update [--instruments bitcoin]
//	marketd serve
//	marketd status
//	marketd cache [--force]
//	marketd gaps [--repair]
//
// For detailed help on any command, use: marketd <command> --help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/M1quelon/silver-octo-system/internal/cache"
	"github.com/M1quelon/silver-octo-system/internal/collector"
	"github.com/M1quelon/silver-octo-system/internal/config"
	apperrors "github.com/M1quelon/silver-octo-system/internal/errors"
	"github.com/M1quelon/silver-octo-system/internal/gaps"
	"github.com/M1quelon/silver-octo-system/internal/logger"
	"github.com/M1quelon/silver-octo-system/internal/models"
	"github.com/M1quelon/silver-octo-system/internal/progress"
	"github.com/M1quelon/silver-octo-system/internal/provider"
	"github.com/M1quelon/silver-octo-system/internal/storage"
)

const (
	Version = "1.0.0"
	AppName = "marketd"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
)

// App holds the wired application components.
type App struct {
	config      *config.AppConfig
	logging     *logger.Manager
	logger      *slog.Logger
	store       storage.FullStorage
	source      *provider.Client
	checkpoints progress.Store
	collector   *collector.Collector
	cache       *cache.Cache
	instruments []models.Instrument
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		printUsage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &App{}
	if err := app.initialize(ctx, configPathFromArgs(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer app.shutdown()

	var err error
	switch command {
	case "backfill":
		err = app.handleBackfill(ctx, args)
	case "update":
		err = app.handleUpdate(ctx, args)
	case "serve":
		err = app.handleServe(ctx, args)
	case "status":
		err = app.handleStatus(ctx)
	case "cache":
		err = app.handleCache(ctx, args)
	case "gaps":
		err = app.handleGaps(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		if app.logger != nil {
			app.logger.Error("Command failed", "command", command, "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(ExitDataError)
	}
}

// initialize loads configuration and wires the component graph.
func (app *App) initialize(ctx context.Context, configPath string) error {
	cfg, err := config.NewManager(configPath, slog.Default()).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.config = cfg

	logging, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	app.logging = logging
	app.logger = logging.GetLogger()
	app.instruments = models.DefaultRegistry()

	store, err := createStorage(cfg, logging.GetComponentLogger("storage").Logger)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	app.store = store

	app.source = provider.NewClient(provider.ClientOptions{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		Currency:       cfg.Provider.Currency,
		RequestDelay:   cfg.Provider.RequestDelayDuration(),
		RateLimitPause: cfg.Provider.RateLimitPauseDuration(),
		Timeout:        cfg.Provider.TimeoutDuration(),
		Retry:          retryPolicy(cfg.Provider),
		Logger:         logging.GetComponentLogger("provider").Logger,
	})

	checkpoints, err := progress.NewFileStore(cfg.Collector.ProgressDir + "/checkpoints.json")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	app.checkpoints = checkpoints

	coll, err := collector.New(collector.Options{
		Source:      app.source,
		Storage:     app.store,
		Checkpoints: app.checkpoints,
		Config: collector.Config{
			PageDays:            cfg.Collector.PageDays,
			CompletionThreshold: cfg.Collector.CompletionThreshold,
			IncrementalCapDays:  cfg.Collector.IncrementalCapDays,
			BootstrapDays:       cfg.Collector.BootstrapDays,
		},
		Logger: logging.GetComponentLogger("collector").Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	app.collector = coll

	builder := cache.NewSummaryBuilder(app.store, app.instruments)
	summaryCache, err := cache.New(cache.Options{
		Path:         cfg.Cache.FilePath,
		Fetch:        builder.Fetch,
		RefreshHours: cfg.Cache.RefreshHours,
		Grace:        cfg.Cache.GracePeriodDuration(),
		Logger:       logging.GetComponentLogger("cache").Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create summary cache: %w", err)
	}
	app.cache = summaryCache

	return nil
}

func (app *App) shutdown() {
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Error("Failed to close storage", "error", err)
		}
	}
	if app.logging != nil {
		app.logging.Close()
	}
}

// handleBackfill runs historical collection for the selected instruments.
func (app *App) handleBackfill(ctx context.Context, args []string) error {
	selected, err := app.selectInstruments(args)
	if err != nil {
		return err
	}

	results, err := app.collector.BackfillAll(ctx, selected)
	for _, r := range results {
		fmt.Printf("%-14s %-12s %6d rows, %d pages (%d failed), coverage %.1f%%, %v\n",
			r.InstrumentID, r.Status, r.RowsCollected, r.Pages, r.FailedPages,
			r.Coverage*100, r.Duration.Round(time.Second))
	}
	if err != nil {
		return err
	}

	app.refreshSummary(ctx)
	return nil
}

// handleUpdate runs one incremental update cycle for the selected instruments.
func (app *App) handleUpdate(ctx context.Context, args []string) error {
	selected, err := app.selectInstruments(args)
	if err != nil {
		return err
	}

	results, err := app.collector.UpdateAll(ctx, selected)
	for _, r := range results {
		mode := "incremental"
		if r.Bootstrap {
			mode = "bootstrap"
		}
		fmt.Printf("%-14s %-12s %3d days requested, %d rows, %d indicator rows\n",
			r.InstrumentID, mode, r.DaysRequested, r.RowsUpserted, r.Indicators)
	}
	if err != nil {
		return err
	}

	app.refreshSummary(ctx)
	return nil
}

// handleServe runs the scheduler until interrupted.
func (app *App) handleServe(ctx context.Context, args []string) error {
	location := time.UTC
	if tz := app.config.Scheduler.TimezoneLocation; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		location = loc
	}

	sched, err := collector.NewScheduler(collector.SchedulerOptions{
		Collector:   app.collector,
		Instruments: app.instruments,
		Hours:       app.config.Cache.RefreshHours,
		Location:    location,
		JobTimeout:  parseDurationOr(app.config.Scheduler.JobTimeout, 30*time.Minute),
		Hooks: []collector.RefreshHook{
			func(ctx context.Context) error {
				_, err := app.cache.Get(ctx, true)
				return err
			},
		},
		Logger: app.logging.GetComponentLogger("scheduler").Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Start(); err != nil {
		return err
	}

	fmt.Printf("Scheduler running (hours %v, %s). Press Ctrl+C to stop.\n",
		app.config.Cache.RefreshHours, location)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(),
		parseDurationOr(app.config.Collector.GracefulTimeout, 30*time.Second))
	defer cancel()
	return sched.Stop(stopCtx)
}

// handleStatus prints storage volume, checkpoints, cache state, recent
// collection runs, and request stats.
func (app *App) handleStatus(ctx context.Context) error {
	stats, err := app.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read storage stats: %w", err)
	}

	fmt.Printf("Storage: %d instruments, %d price rows, %d indicator rows",
		stats.TotalInstruments, stats.TotalPrices, stats.TotalIndicators)
	if !stats.EarliestDate.IsZero() {
		fmt.Printf(" (%s to %s)",
			stats.EarliestDate.Format(time.DateOnly),
			stats.LatestDate.Format(time.DateOnly))
	}
	fmt.Println()

	checkpoints, err := app.checkpoints.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoints: %w", err)
	}
	if len(checkpoints) == 0 {
		fmt.Println("Checkpoints: none")
	} else {
		fmt.Println("Checkpoints:")
		for _, inst := range app.instruments {
			if cp, ok := checkpoints[inst.ID]; ok {
				fmt.Printf("  %s\n", cp.Summary())
			}
		}
	}

	info := app.cache.Info()
	if info.Exists {
		fmt.Printf("Cache: valid=%t updates=%d last_update=%s next_refresh=%s\n",
			info.Valid, info.UpdateCount,
			info.LastUpdate.Format(time.RFC3339),
			info.NextRefresh.Format(time.RFC3339))
	} else {
		fmt.Printf("Cache: empty, next refresh %s\n", info.NextRefresh.Format(time.RFC3339))
	}

	runs, err := app.store.RecentCollectionRuns(ctx, 5)
	if err != nil {
		return fmt.Errorf("failed to read collection runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("Recent runs: none")
	} else {
		fmt.Println("Recent runs:")
		for _, run := range runs {
			fmt.Printf("  %s %s %s: %d rows in %d pages (%d failed), %s\n",
				run.StartedAt.Format(time.RFC3339), run.Kind, run.InstrumentID,
				run.RowsCollected, run.Pages, run.FailedPages,
				run.Status)
		}
	}

	reqStats := app.source.Stats()
	fmt.Printf("Requests: %d total, %d failed, %d rate limit hits, success rate %.1f%%\n",
		reqStats.Total, reqStats.Failed, reqStats.RateLimitHits, reqStats.SuccessRate)
	return nil
}

// handleCache prints the summary payload, refreshing it when forced or stale.
func (app *App) handleCache(ctx context.Context, args []string) error {
	force := false
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			force = true
		case "--help", "-h":
			fmt.Printf("Usage: %s cache [--force]\n\nPrints the market summary payload. --force bypasses validity and refreshes.\n", AppName)
			return nil
		}
	}

	payload, err := app.cache.Get(ctx, force)
	if err != nil {
		return err
	}

	var pretty map[string]any
	if err := json.Unmarshal(payload, &pretty); err != nil {
		fmt.Println(string(payload))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

// handleGaps scans stored history for missing days and optionally repairs
// them with targeted fetches.
func (app *App) handleGaps(ctx context.Context, args []string) error {
	repair := false
	for _, arg := range args {
		if arg == "--repair" || arg == "-r" {
			repair = true
		}
	}

	selected, err := app.selectInstruments(args)
	if err != nil {
		return err
	}

	detector := gaps.NewDetector(app.store, app.logging.GetComponentLogger("gaps").Logger)
	var all []gaps.Gap
	for _, inst := range selected {
		found, err := detector.Detect(ctx, inst.ID, time.Time{}, time.Time{})
		if err != nil {
			return fmt.Errorf("gap scan failed for %s: %w", inst.ID, err)
		}
		all = append(all, found...)
	}

	if len(all) == 0 {
		fmt.Println("No gaps found.")
		return nil
	}

	fmt.Printf("Found %d gaps:\n", len(all))
	for _, gap := range all {
		fmt.Printf("  %s\n", gap)
	}

	if !repair {
		fmt.Printf("\nTo repair, run: %s gaps --repair\n", AppName)
		return nil
	}

	repairer := gaps.NewRepairer(app.source, app.store, app.logging.GetComponentLogger("gaps").Logger)
	recovered, unresolved, err := repairer.Repair(ctx, all)
	if err != nil {
		return err
	}
	fmt.Printf("\nRecovered %d rows (%d gaps had no upstream data).\n", recovered, unresolved)

	for _, inst := range selected {
		if _, err := app.collector.RefreshIndicators(ctx, inst.ID); err != nil {
			app.logger.Warn("Indicator recomputation failed", "instrument", inst.ID, "error", err)
		}
	}
	app.refreshSummary(ctx)
	return nil
}

// refreshSummary rebuilds the cache after a collection run. Best effort: a
// failure here does not fail the command.
func (app *App) refreshSummary(ctx context.Context) {
	if _, err := app.cache.Get(ctx, true); err != nil {
		app.logger.Warn("Failed to refresh summary cache", "error", err)
	}
}

// selectInstruments resolves --instruments into registry entries, defaulting
// to the full registry.
func (app *App) selectInstruments(args []string) ([]models.Instrument, error) {
	var filter string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--instruments", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--instruments requires a value")
			}
			filter = args[i+1]
			i++
		}
	}

	if filter == "" {
		return app.instruments, nil
	}

	byID := make(map[string]models.Instrument, len(app.instruments))
	for _, inst := range app.instruments {
		byID[inst.ID] = inst
	}

	var selected []models.Instrument
	for _, id := range strings.Split(filter, ",") {
		id = strings.TrimSpace(id)
		inst, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", id)
		}
		selected = append(selected, inst)
	}
	return selected, nil
}

func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if val := os.Getenv("MARKETD_CONFIG"); val != "" {
		return val
	}
	return "marketd.json"
}

func createStorage(cfg *config.AppConfig, logger *slog.Logger) (storage.FullStorage, error) {
	switch cfg.Storage.Type {
	case "duckdb", "":
		return storage.NewDuckDBStorage(cfg.Storage.DatabaseURL, logger)
	case "memory":
		return storage.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

func retryPolicy(cfg config.ProviderConfig) apperrors.BackoffPolicy {
	policy := apperrors.DefaultBackoffPolicy()
	if cfg.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.RetryAttempts
	}
	policy.InitialDelay = parseDurationOr(cfg.RetryInitialDelay, policy.InitialDelay)
	policy.MaxDelay = parseDurationOr(cfg.RetryMaxDelay, policy.MaxDelay)
	return policy
}

func parseDurationOr(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - crypto market data daemon v%s

USAGE:
    %s <command> [options]

COMMANDS:
    backfill    Collect full daily history for tracked instruments
    update      Run one incremental update cycle
    serve       Run scheduled updates at the configured hours
    status      Show storage, checkpoint, cache and request statistics
    cache       Print the market summary payload
    gaps        Scan stored history for missing days and optionally repair

OPTIONS:
    --config <path>        Config file path (default: marketd.json, env MARKETD_CONFIG)
    --instruments <ids>    Comma-separated instrument IDs (backfill, update)
    --force                Bypass cache validity (cache)
    --help, -h             Show help information
    --version, -v          Show version information

EXAMPLES:
    # Backfill the full registry
    %s backfill

    # Update just bitcoin and ethereum
    %s update --instruments bitcoin,ethereum

    # Run the scheduler in the foreground
    %s serve

CONFIGURATION:
    Configuration is read from a JSON file and overridden by environment
    variables (e.g. DATABASE_URL, REFRESH_HOURS, PROVIDER_API_KEY).
`, AppName, Version, AppName, AppName, AppName, AppName)
}
