// Package collector orchestrates daily price collection: paged historical
// backfill with durable checkpoints, incremental gap-filling updates, and
// indicator recomputation after every write.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/M1quelon/silver-octo-system/internal/errors"
	"github.com/M1quelon/silver-octo-system/internal/indicators"
	"github.com/M1quelon/silver-octo-system/internal/models"
	"github.com/M1quelon/silver-octo-system/internal/progress"
	"github.com/M1quelon/silver-octo-system/internal/provider"
	"github.com/M1quelon/silver-octo-system/internal/storage"
)

const (
	// DefaultPageDays is the span of one backfill page.
	DefaultPageDays = 365

	// DefaultCompletionThreshold is the coverage ratio at which a backfill
	// run counts as complete despite failed pages.
	DefaultCompletionThreshold = 0.95

	// DefaultIncrementalCap bounds how far back one incremental update
	// reaches, regardless of the detected gap.
	DefaultIncrementalCap = 90

	// DefaultBootstrapDays is fetched when an instrument has no stored rows.
	DefaultBootstrapDays = 365
)

// Config tunes the collection behavior.
type Config struct {
	PageDays            int
	CompletionThreshold float64
	IncrementalCapDays  int
	BootstrapDays       int
}

// DefaultCollectorConfig returns the standard collection settings.
func DefaultCollectorConfig() Config {
	return Config{
		PageDays:            DefaultPageDays,
		CompletionThreshold: DefaultCompletionThreshold,
		IncrementalCapDays:  DefaultIncrementalCap,
		BootstrapDays:       DefaultBootstrapDays,
	}
}

// Collector drives collection runs against an upstream source and a storage
// backend. Safe for concurrent use; runs for the same instrument are
// serialized so checkpoints never interleave.
type Collector struct {
	source      provider.Source
	store       storage.FullStorage
	checkpoints progress.Store
	engine      *indicators.Engine
	config      Config
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options wires the collector dependencies.
type Options struct {
	Source      provider.Source
	Storage     storage.FullStorage
	Checkpoints progress.Store
	Config      Config
	Logger      *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// New creates a Collector.
func New(opts Options) (*Collector, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("data source is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = progress.NewMemoryStore()
	}
	if opts.Config.PageDays <= 0 {
		opts.Config.PageDays = DefaultPageDays
	}
	if opts.Config.CompletionThreshold <= 0 || opts.Config.CompletionThreshold > 1 {
		opts.Config.CompletionThreshold = DefaultCompletionThreshold
	}
	if opts.Config.IncrementalCapDays <= 0 {
		opts.Config.IncrementalCapDays = DefaultIncrementalCap
	}
	if opts.Config.BootstrapDays <= 0 {
		opts.Config.BootstrapDays = DefaultBootstrapDays
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Collector{
		source:      opts.Source,
		store:       opts.Storage,
		checkpoints: opts.Checkpoints,
		engine:      indicators.NewEngine(),
		config:      opts.Config,
		logger:      opts.Logger,
		now:         opts.Now,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// BackfillResult summarizes one historical collection run.
type BackfillResult struct {
	JobID         string
	InstrumentID  string
	Status        models.CollectionStatus
	Resumed       bool
	Pages         int
	FailedPages   int
	RowsCollected int
	Coverage      float64
	Indicators    int
	Duration      time.Duration
}

// Backfill collects the full daily history for an instrument, from its
// listing date through today, in fixed-size pages. A checkpoint is persisted
// after every page; an interrupted run resumes from where it stopped. Failed
// pages are recorded and skipped, and the run completes as long as coverage
// reaches the completion threshold.
func (c *Collector) Backfill(ctx context.Context, inst models.Instrument) (*BackfillResult, error) {
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument: %w", err)
	}

	unlock := c.lockInstrument(inst.ID)
	defer unlock()

	started := c.now()
	result := &BackfillResult{
		JobID:        uuid.New().String(),
		InstrumentID: inst.ID,
	}
	logger := c.logger.With("job_id", result.JobID, "instrument", inst.ID)

	today := dayOf(started)
	start := dayOf(inst.ListedAt)

	cp, err := c.checkpoints.Load(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	switch {
	case cp != nil && cp.IsComplete():
		logger.Info("Backfill already completed, skipping", "summary", cp.Summary())
		result.Status = cp.Status
		result.Coverage = cp.CoverageRatio()
		return result, nil

	case cp != nil && cp.IsResumable():
		result.Resumed = true
		// An in_progress checkpoint comes from an interrupted run and just
		// continues; a failed one has to be restarted first.
		if cp.Status == models.CollectionError {
			if err := cp.Start(started); err != nil {
				return nil, fmt.Errorf("failed to resume checkpoint: %w", err)
			}
		}
		logger.Info("Resuming historical collection",
			"current_date", cp.CurrentDate.Format(time.DateOnly),
			"collected_days", cp.CollectedDays,
			"total_days", cp.TotalDays,
		)

	default:
		cp = models.NewCollectionProgress(inst.ID, start, today)
		if err := cp.Start(started); err != nil {
			return nil, fmt.Errorf("failed to start checkpoint: %w", err)
		}
		logger.Info("Starting historical collection",
			"start_date", start.Format(time.DateOnly),
			"end_date", today.Format(time.DateOnly),
			"total_days", cp.TotalDays,
		)
	}

	if err := c.checkpoints.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	cursor := dayOf(cp.CurrentDate)
	for !cursor.After(cp.EndDate) {
		select {
		case <-ctx.Done():
			// Leave the checkpoint in_progress so the next run resumes here.
			if saveErr := c.checkpoints.Save(ctx, cp); saveErr != nil {
				logger.Error("Failed to save checkpoint on cancellation", "error", saveErr)
			}
			result.Duration = c.now().Sub(started)
			return result, ctx.Err()
		default:
		}

		pageEnd := cursor.AddDate(0, 0, c.config.PageDays-1)
		if pageEnd.After(cp.EndDate) {
			pageEnd = cp.EndDate
		}

		prices, err := c.fetchPage(ctx, logger, inst.ID, cursor, pageEnd)
		if err != nil {
			if ctx.Err() != nil {
				if saveErr := c.checkpoints.Save(ctx, cp); saveErr != nil {
					logger.Error("Failed to save checkpoint on cancellation", "error", saveErr)
				}
				result.Duration = c.now().Sub(started)
				return result, ctx.Err()
			}

			result.FailedPages++
			cp.RecordPageError(fmt.Sprintf("%s to %s: %v",
				cursor.Format(time.DateOnly), pageEnd.Format(time.DateOnly), err))
			logger.Warn("Page failed, continuing with next page",
				"page_start", cursor.Format(time.DateOnly),
				"page_end", pageEnd.Format(time.DateOnly),
				"error", err,
			)
			cp.CurrentDate = pageEnd.AddDate(0, 0, 1)
		} else {
			if len(prices) > 0 {
				if err := c.store.UpsertPrices(ctx, prices); err != nil {
					failErr := fmt.Errorf("failed to persist page %s to %s: %w",
						cursor.Format(time.DateOnly), pageEnd.Format(time.DateOnly), err)
					if stateErr := cp.Fail(failErr.Error(), c.now()); stateErr != nil {
						logger.Error("Failed to mark checkpoint failed", "error", stateErr)
					}
					if saveErr := c.checkpoints.Save(ctx, cp); saveErr != nil {
						logger.Error("Failed to save checkpoint", "error", saveErr)
					}
					result.Status = cp.Status
					result.Duration = c.now().Sub(started)
					return result, failErr
				}
			}

			result.Pages++
			result.RowsCollected += len(prices)
			if err := cp.AdvancePage(len(prices), pageEnd.AddDate(0, 0, 1)); err != nil {
				return nil, fmt.Errorf("checkpoint advance failed: %w", err)
			}
			logger.Info("Collected page",
				"page_start", cursor.Format(time.DateOnly),
				"page_end", pageEnd.Format(time.DateOnly),
				"rows", len(prices),
				"progress_pct", fmt.Sprintf("%.1f", cp.ProgressPercentage()),
				"eta", cp.EstimatedTimeRemaining(c.now()).Round(time.Second),
			)
		}

		if err := c.checkpoints.Save(ctx, cp); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		cursor = dayOf(cp.CurrentDate)
	}

	coverage := cp.CoverageRatio()
	result.Coverage = coverage

	var runErr error
	if coverage >= c.config.CompletionThreshold {
		if err := cp.Complete(c.now()); err != nil {
			return nil, fmt.Errorf("checkpoint completion failed: %w", err)
		}
	} else {
		runErr = fmt.Errorf("collection coverage %.1f%% is below the %.0f%% completion threshold",
			coverage*100, c.config.CompletionThreshold*100)
		if err := cp.Fail(runErr.Error(), c.now()); err != nil {
			return nil, fmt.Errorf("checkpoint failure transition failed: %w", err)
		}
	}
	if err := c.checkpoints.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save final checkpoint: %w", err)
	}
	result.Status = cp.Status

	// Rows from the pages that did succeed still get indicators, even when
	// the run fell short of the completion threshold.
	count, err := c.RefreshIndicators(ctx, inst.ID)
	if err != nil {
		logger.Warn("Indicator recomputation failed", "error", err)
	}
	result.Indicators = count

	result.Duration = c.now().Sub(started)
	c.recordRun(ctx, logger, &storage.CollectionRun{
		JobID:         result.JobID,
		InstrumentID:  inst.ID,
		Kind:          "backfill",
		Status:        string(cp.Status),
		RowsCollected: result.RowsCollected,
		Pages:         result.Pages,
		FailedPages:   result.FailedPages,
		Coverage:      coverage,
		StartedAt:     started,
		Duration:      result.Duration,
	})
	logger.Info("Historical collection finished",
		"status", string(cp.Status),
		"rows", result.RowsCollected,
		"pages", result.Pages,
		"failed_pages", result.FailedPages,
		"coverage_pct", fmt.Sprintf("%.1f", coverage*100),
		"duration", result.Duration.Round(time.Second),
	)
	return result, runErr
}

// fetchPage issues a range request, re-issuing it once if the upstream rate
// limited the first attempt. The client sits out the cooldown before the
// second attempt.
func (c *Collector) fetchPage(ctx context.Context, logger *slog.Logger, instrumentID string, from, to time.Time) ([]models.DailyPrice, error) {
	prices, err := c.source.HistoryRange(ctx, instrumentID, from, to)
	if err == nil || !apperrors.IsRateLimited(err) {
		return prices, err
	}

	logger.Warn("Rate limited, re-issuing page after cooldown",
		"page_start", from.Format(time.DateOnly),
		"page_end", to.Format(time.DateOnly),
	)
	return c.source.HistoryRange(ctx, instrumentID, from, to)
}

// UpdateResult summarizes one incremental update run.
type UpdateResult struct {
	JobID         string
	InstrumentID  string
	Bootstrap     bool
	DaysRequested int
	RowsUpserted  int
	Indicators    int
	Duration      time.Duration
}

// Update performs an incremental collection for an instrument. The window is
// sized from the gap between the last stored date and today, re-fetching the
// last stored day so a partial final row is replaced, and capped so a long
// outage never turns an update into a full backfill. An instrument with no
// stored rows gets a bootstrap fetch instead.
func (c *Collector) Update(ctx context.Context, inst models.Instrument) (*UpdateResult, error) {
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument: %w", err)
	}

	unlock := c.lockInstrument(inst.ID)
	defer unlock()

	started := c.now()
	result := &UpdateResult{
		JobID:        uuid.New().String(),
		InstrumentID: inst.ID,
	}
	logger := c.logger.With("job_id", result.JobID, "instrument", inst.ID)

	last, exists, err := c.store.LastDate(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last stored date: %w", err)
	}

	days := c.config.BootstrapDays
	if exists {
		gap := int(dayOf(started).Sub(dayOf(last)).Hours() / 24)
		if gap < 0 {
			gap = 0
		}
		days = gap + 1
		if days > c.config.IncrementalCapDays {
			days = c.config.IncrementalCapDays
		}
	} else {
		result.Bootstrap = true
		logger.Info("No stored data, bootstrapping", "days", days)
	}
	result.DaysRequested = days

	prices, err := c.source.History(ctx, inst.ID, days)
	if err != nil {
		return nil, fmt.Errorf("incremental fetch failed: %w", err)
	}

	if len(prices) > 0 {
		if err := c.store.UpsertPrices(ctx, prices); err != nil {
			return nil, fmt.Errorf("failed to persist update: %w", err)
		}
	}
	result.RowsUpserted = len(prices)

	count, err := c.RefreshIndicators(ctx, inst.ID)
	if err != nil {
		logger.Warn("Indicator recomputation failed", "error", err)
	}
	result.Indicators = count

	result.Duration = c.now().Sub(started)
	c.recordRun(ctx, logger, &storage.CollectionRun{
		JobID:         result.JobID,
		InstrumentID:  inst.ID,
		Kind:          "update",
		Status:        string(models.CollectionCompleted),
		RowsCollected: result.RowsUpserted,
		Pages:         1,
		Coverage:      1,
		StartedAt:     started,
		Duration:      result.Duration,
	})
	logger.Info("Incremental update finished",
		"days_requested", days,
		"rows", result.RowsUpserted,
		"bootstrap", result.Bootstrap,
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

// BackfillAll runs Backfill for every instrument in order. Failures are
// collected rather than aborting the remaining instruments.
func (c *Collector) BackfillAll(ctx context.Context, instruments []models.Instrument) ([]*BackfillResult, error) {
	var results []*BackfillResult
	var failed []string

	for _, inst := range instruments {
		result, err := c.Backfill(ctx, inst)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			failed = append(failed, inst.ID)
			c.logger.Error("Backfill failed", "instrument", inst.ID, "error", err)
		}
	}

	if len(failed) > 0 {
		return results, fmt.Errorf("backfill failed for %d of %d instruments: %v",
			len(failed), len(instruments), failed)
	}
	return results, nil
}

// UpdateAll runs Update for every instrument in order.
func (c *Collector) UpdateAll(ctx context.Context, instruments []models.Instrument) ([]*UpdateResult, error) {
	var results []*UpdateResult
	var failed []string

	for _, inst := range instruments {
		result, err := c.Update(ctx, inst)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			failed = append(failed, inst.ID)
			c.logger.Error("Update failed", "instrument", inst.ID, "error", err)
		}
	}

	if len(failed) > 0 {
		return results, fmt.Errorf("update failed for %d of %d instruments: %v",
			len(failed), len(instruments), failed)
	}
	return results, nil
}

// RefreshIndicators recomputes the full derived indicator series from stored
// prices and upserts it. Returns the number of indicator rows written.
func (c *Collector) RefreshIndicators(ctx context.Context, instrumentID string) (int, error) {
	resp, err := c.store.QueryPrices(ctx, storage.QueryRequest{InstrumentID: instrumentID})
	if err != nil {
		return 0, fmt.Errorf("failed to load price history: %w", err)
	}

	points := c.engine.Compute(resp.Prices)
	if len(points) == 0 {
		return 0, nil
	}

	if err := c.store.UpsertIndicators(ctx, points); err != nil {
		return 0, fmt.Errorf("failed to persist indicators: %w", err)
	}
	return len(points), nil
}

// RefreshMetadata fetches and stores descriptive fields for an instrument.
func (c *Collector) RefreshMetadata(ctx context.Context, inst models.Instrument) error {
	meta, err := c.source.Metadata(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("metadata fetch failed for %s: %w", inst.ID, err)
	}
	if err := c.store.UpsertMetadata(ctx, meta); err != nil {
		return fmt.Errorf("failed to persist metadata for %s: %w", inst.ID, err)
	}
	return nil
}

// recordRun appends collection accounting to storage. Run history is
// advisory, so a recording failure never fails the run itself.
func (c *Collector) recordRun(ctx context.Context, logger *slog.Logger, run *storage.CollectionRun) {
	if err := c.store.SaveCollectionStats(ctx, run); err != nil {
		logger.Warn("Failed to record collection run", "error", err)
	}
}

// lockInstrument serializes runs per instrument and returns the unlock func.
func (c *Collector) lockInstrument(instrumentID string) func() {
	c.mu.Lock()
	lock, ok := c.locks[instrumentID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[instrumentID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
