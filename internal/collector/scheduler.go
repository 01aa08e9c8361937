package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

// RefreshHook runs after a scheduled update cycle, e.g. to force the summary
// cache to rebuild from the fresh data.
type RefreshHook func(ctx context.Context) error

// Scheduler runs incremental updates at fixed daily hours. Each run updates
// every tracked instrument and then invokes the refresh hooks.
type Scheduler struct {
	collector   *Collector
	instruments []models.Instrument
	hours       []int
	location    *time.Location
	jobTimeout  time.Duration
	hooks       []RefreshHook
	logger      *slog.Logger

	cron *cron.Cron

	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	runCount int64
	failures int64
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Collector   *Collector
	Instruments []models.Instrument

	// Hours are the daily run hours in the scheduler's timezone.
	Hours []int

	// Location defaults to UTC.
	Location *time.Location

	// JobTimeout bounds one full update cycle.
	JobTimeout time.Duration

	// Hooks run after each successful cycle.
	Hooks []RefreshHook

	Logger *slog.Logger
}

// NewScheduler creates a Scheduler. Call Start to begin running.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Collector == nil {
		return nil, fmt.Errorf("collector is required")
	}
	if len(opts.Instruments) == 0 {
		return nil, fmt.Errorf("at least one instrument is required")
	}
	if len(opts.Hours) == 0 {
		opts.Hours = []int{9, 21}
	}
	for _, h := range opts.Hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid schedule hour %d", h)
		}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Scheduler{
		collector:   opts.Collector,
		instruments: opts.Instruments,
		hours:       opts.Hours,
		location:    opts.Location,
		jobTimeout:  opts.JobTimeout,
		hooks:       opts.Hooks,
		logger:      opts.Logger,
	}, nil
}

// Start registers the cron entries and begins running them.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron = cron.New(cron.WithLocation(s.location))
	for _, hour := range s.hours {
		spec := fmt.Sprintf("0 %d * * *", hour)
		if _, err := s.cron.AddFunc(spec, s.runCycle); err != nil {
			return fmt.Errorf("failed to register schedule %q: %w", spec, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started",
		"hours", s.hours,
		"timezone", s.location.String(),
		"instruments", len(s.instruments),
	)
	return nil
}

// Stop stops scheduling new runs and waits for an in-flight run to finish,
// bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	stopCtx := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with a run still in flight")
		return ctx.Err()
	}
}

// RunNow executes one update cycle immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.cycle(ctx)
}

// NextRun returns the next scheduled run time, or the zero time when the
// scheduler is not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cron == nil {
		return time.Time{}
	}

	var next time.Time
	for _, entry := range s.cron.Entries() {
		if next.IsZero() || entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next
}

// Stats reports scheduler run counters.
func (s *Scheduler) Stats() (runs, failures int64, lastRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCount, s.failures, s.lastRun
}

func (s *Scheduler) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	if err := s.cycle(ctx); err != nil {
		s.logger.Error("Scheduled update cycle failed", "error", err)
	}
}

func (s *Scheduler) cycle(ctx context.Context) error {
	started := time.Now()
	s.logger.Info("Starting scheduled update cycle", "instruments", len(s.instruments))

	results, err := s.collector.UpdateAll(ctx, s.instruments)

	s.mu.Lock()
	s.runCount++
	s.lastRun = started
	if err != nil {
		s.failures++
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}

	var rows int
	for _, r := range results {
		rows += r.RowsUpserted
	}

	for _, hook := range s.hooks {
		if hookErr := hook(ctx); hookErr != nil {
			s.logger.Warn("Post-cycle refresh hook failed", "error", hookErr)
		}
	}

	s.logger.Info("Scheduled update cycle finished",
		"rows", rows,
		"duration", time.Since(started).Round(time.Second),
	)
	return nil
}
