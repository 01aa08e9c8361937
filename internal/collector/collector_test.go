package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/M1quelon/silver-octo-system/internal/errors"
	"github.com/M1quelon/silver-octo-system/internal/models"
	"github.com/M1quelon/silver-octo-system/internal/progress"
	"github.com/M1quelon/silver-octo-system/internal/storage"
)

var testClock = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func today() time.Time {
	return testClock.UTC().Truncate(24 * time.Hour)
}

func instrumentListedDaysAgo(days int) models.Instrument {
	return models.Instrument{
		ID:       "bitcoin",
		Symbol:   "BTC",
		ListedAt: today().AddDate(0, 0, -(days - 1)),
	}
}

// fakeSource implements provider.Source with programmable behavior.
type fakeSource struct {
	mu           sync.Mutex
	rangeCalls   []rangeCall
	historyCalls []int

	// rangeErr is consulted per call in order; nil entries succeed.
	rangeErrs []error
}

type rangeCall struct {
	instrumentID string
	from, to     time.Time
}

func genRange(instrumentID string, from, to time.Time) []models.DailyPrice {
	var rows []models.DailyPrice
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		rows = append(rows, models.DailyPrice{
			InstrumentID: instrumentID,
			Date:         day,
			Open:         100,
			High:         101,
			Low:          99,
			Close:        100,
		})
	}
	return rows
}

func (f *fakeSource) HistoryRange(ctx context.Context, instrumentID string, from, to time.Time) ([]models.DailyPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.rangeCalls)
	f.rangeCalls = append(f.rangeCalls, rangeCall{instrumentID, from, to})
	if call < len(f.rangeErrs) && f.rangeErrs[call] != nil {
		return nil, f.rangeErrs[call]
	}
	return genRange(instrumentID, from, to), nil
}

func (f *fakeSource) History(ctx context.Context, instrumentID string, days int) ([]models.DailyPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.historyCalls = append(f.historyCalls, days)
	end := today()
	return genRange(instrumentID, end.AddDate(0, 0, -(days-1)), end), nil
}

func (f *fakeSource) Metadata(ctx context.Context, instrumentID string) (*models.InstrumentMetadata, error) {
	return &models.InstrumentMetadata{InstrumentID: instrumentID, Symbol: "BTC", Name: "Bitcoin"}, nil
}

func newTestCollector(t *testing.T, source *fakeSource, cfg Config) (*Collector, *storage.MemoryStorage, *progress.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStorage()
	checkpoints := progress.NewMemoryStore()

	c, err := New(Options{
		Source:      source,
		Storage:     store,
		Checkpoints: checkpoints,
		Config:      cfg,
		Now:         func() time.Time { return testClock },
	})
	require.NoError(t, err)
	return c, store, checkpoints
}

func TestBackfill_SinglePageCompletes(t *testing.T) {
	source := &fakeSource{}
	c, store, checkpoints := newTestCollector(t, source, Config{})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(30)
	result, err := c.Backfill(ctx, inst)
	require.NoError(t, err)

	assert.Equal(t, models.CollectionCompleted, result.Status)
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, 30, result.RowsCollected)
	assert.Zero(t, result.FailedPages)
	assert.InDelta(t, 1.0, result.Coverage, 1e-9)
	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, 30, result.Indicators)

	count, err := store.CountPrices(ctx, inst.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(30), count)

	cp, err := checkpoints.Load(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.IsComplete())
}

func TestBackfill_MultiplePages(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{PageDays: 10})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(25)
	result, err := c.Backfill(ctx, inst)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, 25, result.RowsCollected)

	// Pages are chronological and contiguous.
	require.Len(t, source.rangeCalls, 3)
	assert.True(t, source.rangeCalls[0].from.Equal(inst.ListedAt))
	for i := 1; i < len(source.rangeCalls); i++ {
		expected := source.rangeCalls[i-1].to.AddDate(0, 0, 1)
		assert.True(t, source.rangeCalls[i].from.Equal(expected), "page %d not contiguous", i)
	}
	assert.True(t, source.rangeCalls[2].to.Equal(today()))

	count, err := store.CountPrices(ctx, inst.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), count)
}

func TestBackfill_RateLimitedPageIsReissued(t *testing.T) {
	rateLimited := apperrors.New(apperrors.KindRateLimited, "provider", "history_range", errors.New("429"))
	source := &fakeSource{rangeErrs: []error{rateLimited}}
	c, _, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(30)
	result, err := c.Backfill(ctx, inst)
	require.NoError(t, err)

	// The first attempt hit the limiter, the re-issue succeeded.
	assert.Len(t, source.rangeCalls, 2)
	assert.True(t, source.rangeCalls[0].from.Equal(source.rangeCalls[1].from))
	assert.Equal(t, models.CollectionCompleted, result.Status)
	assert.Zero(t, result.FailedPages)
}

func TestBackfill_FailedPagesBelowThreshold(t *testing.T) {
	boom := errors.New("boom")
	source := &fakeSource{rangeErrs: []error{boom, boom, nil}}
	c, _, checkpoints := newTestCollector(t, source, Config{PageDays: 10})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(25)
	result, err := c.Backfill(ctx, inst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completion threshold")

	assert.Equal(t, models.CollectionError, result.Status)
	assert.Equal(t, 2, result.FailedPages)
	assert.Equal(t, 1, result.Pages)

	cp, loadErr := checkpoints.Load(ctx, inst.ID)
	require.NoError(t, loadErr)
	require.NotNil(t, cp)
	assert.True(t, cp.IsResumable())
	assert.Len(t, cp.Errors, 3) // two page errors plus the fatal summary
}

func TestBackfill_SingleFailedPageStillCompletes(t *testing.T) {
	// 3 failed days out of 100 leaves coverage at 97%, above the threshold.
	boom := errors.New("boom")
	source := &fakeSource{rangeErrs: []error{nil, boom}}
	c, _, _ := newTestCollector(t, source, Config{PageDays: 97})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(100)
	result, err := c.Backfill(ctx, inst)
	require.NoError(t, err)

	assert.Equal(t, models.CollectionCompleted, result.Status)
	assert.Equal(t, 1, result.FailedPages)
	assert.InDelta(t, 0.97, result.Coverage, 1e-9)
}

func TestBackfill_IndicatorsRefreshedDespiteFailedRun(t *testing.T) {
	// Pages of 40, 40, and 20 days; the middle one fails, so 60 rows land
	// and coverage stops at 60%. The stored rows still get indicators.
	boom := errors.New("boom")
	source := &fakeSource{rangeErrs: []error{nil, boom, nil}}
	c, store, _ := newTestCollector(t, source, Config{PageDays: 40})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(100)
	result, err := c.Backfill(ctx, inst)
	require.Error(t, err)

	assert.Equal(t, models.CollectionError, result.Status)
	assert.Equal(t, 60, result.RowsCollected)
	assert.Equal(t, 60, result.Indicators)

	points, err := store.QueryIndicators(ctx, inst.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, points, 60)
}

// progressRecorder captures the progress percentage at every checkpoint save.
type progressRecorder struct {
	progress.Store
	percentages []float64
}

func (r *progressRecorder) Save(ctx context.Context, p *models.CollectionProgress) error {
	r.percentages = append(r.percentages, p.ProgressPercentage())
	return r.Store.Save(ctx, p)
}

func TestBackfill_ProgressNeverDecreases(t *testing.T) {
	boom := errors.New("boom")
	source := &fakeSource{rangeErrs: []error{nil, boom, nil, boom, nil}}
	recorder := &progressRecorder{Store: progress.NewMemoryStore()}

	c, err := New(Options{
		Source:      source,
		Storage:     storage.NewMemoryStorage(),
		Checkpoints: recorder,
		Config:      Config{PageDays: 10},
		Now:         func() time.Time { return testClock },
	})
	require.NoError(t, err)

	_, _ = c.Backfill(context.Background(), instrumentListedDaysAgo(50))

	require.NotEmpty(t, recorder.percentages)
	for i := 1; i < len(recorder.percentages); i++ {
		assert.GreaterOrEqual(t, recorder.percentages[i], recorder.percentages[i-1],
			"progress dropped between save %d and %d", i-1, i)
	}
}

func TestBackfill_RecordsCollectionRun(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(30)
	result, err := c.Backfill(ctx, inst)
	require.NoError(t, err)

	runs, err := store.RecentCollectionRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.JobID, runs[0].JobID)
	assert.Equal(t, "backfill", runs[0].Kind)
	assert.Equal(t, string(models.CollectionCompleted), runs[0].Status)
	assert.Equal(t, 30, runs[0].RowsCollected)
	assert.Equal(t, 1, runs[0].Pages)
	assert.InDelta(t, 1.0, runs[0].Coverage, 1e-9)
	assert.True(t, runs[0].StartedAt.Equal(testClock))
}

func TestBackfill_ResumesFromCheckpoint(t *testing.T) {
	source := &fakeSource{}
	c, _, checkpoints := newTestCollector(t, source, Config{PageDays: 10})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(25)
	start := inst.ListedAt.UTC().Truncate(24 * time.Hour)

	// A previous run collected the first page and was interrupted.
	cp := models.NewCollectionProgress(inst.ID, start, today())
	require.NoError(t, cp.Start(testClock.Add(-time.Hour)))
	require.NoError(t, cp.AdvancePage(10, start.AddDate(0, 0, 10)))
	require.NoError(t, checkpoints.Save(ctx, cp))

	result, err := c.Backfill(ctx, inst)
	require.NoError(t, err)

	assert.True(t, result.Resumed)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 15, result.RowsCollected)
	require.NotEmpty(t, source.rangeCalls)
	assert.True(t, source.rangeCalls[0].from.Equal(start.AddDate(0, 0, 10)),
		"resume must continue from the checkpoint cursor")
	assert.Equal(t, models.CollectionCompleted, result.Status)
}

func TestBackfill_SkipsCompletedRun(t *testing.T) {
	source := &fakeSource{}
	c, _, checkpoints := newTestCollector(t, source, Config{})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(10)
	cp := models.NewCollectionProgress(inst.ID, inst.ListedAt, today())
	require.NoError(t, cp.Start(testClock.Add(-time.Hour)))
	require.NoError(t, cp.AdvancePage(10, today().AddDate(0, 0, 1)))
	require.NoError(t, cp.Complete(testClock.Add(-time.Hour)))
	require.NoError(t, checkpoints.Save(ctx, cp))

	result, err := c.Backfill(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, models.CollectionCompleted, result.Status)
	assert.Empty(t, source.rangeCalls)
}

func TestBackfill_RejectsInvalidInstrument(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeSource{}, Config{})
	_, err := c.Backfill(context.Background(), models.Instrument{Symbol: "BTC"})
	assert.Error(t, err)
}

func TestUpdate_IncrementalWindow(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()
	inst := instrumentListedDaysAgo(30)

	// Stored data ends three days ago.
	require.NoError(t, store.UpsertPrices(ctx, genRange(inst.ID, today().AddDate(0, 0, -10), today().AddDate(0, 0, -3))))

	result, err := c.Update(ctx, inst)
	require.NoError(t, err)

	assert.False(t, result.Bootstrap)
	assert.Equal(t, 4, result.DaysRequested) // gap of 3 days plus the last stored day
	require.Len(t, source.historyCalls, 1)
	assert.Equal(t, 4, source.historyCalls[0])
	assert.Equal(t, 4, result.RowsUpserted)

	last, exists, err := store.LastDate(ctx, inst.ID)
	require.NoError(t, err)
	require.True(t, exists)
	assert.True(t, last.Equal(today()))
}

func TestUpdate_GapIsCapped(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{IncrementalCapDays: 90})
	ctx := context.Background()
	inst := instrumentListedDaysAgo(400)

	require.NoError(t, store.UpsertPrices(ctx, genRange(inst.ID, today().AddDate(0, 0, -200), today().AddDate(0, 0, -200))))

	result, err := c.Update(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, 90, result.DaysRequested)
}

func TestUpdate_BootstrapWhenEmpty(t *testing.T) {
	source := &fakeSource{}
	c, _, _ := newTestCollector(t, source, Config{BootstrapDays: 365})
	ctx := context.Background()

	result, err := c.Update(ctx, instrumentListedDaysAgo(400))
	require.NoError(t, err)

	assert.True(t, result.Bootstrap)
	assert.Equal(t, 365, result.DaysRequested)
	assert.Equal(t, 365, result.RowsUpserted)
	assert.Equal(t, 365, result.Indicators)
}

func TestUpdate_UpToDateRefetchesLastDay(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()
	inst := instrumentListedDaysAgo(30)

	require.NoError(t, store.UpsertPrices(ctx, genRange(inst.ID, today().AddDate(0, 0, -5), today())))

	result, err := c.Update(ctx, inst)
	require.NoError(t, err)

	// Today's partial row is replaced.
	assert.Equal(t, 1, result.DaysRequested)
	assert.Equal(t, 1, result.RowsUpserted)
}

func TestUpdate_RecordsCollectionRun(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()
	inst := instrumentListedDaysAgo(30)

	require.NoError(t, store.UpsertPrices(ctx, genRange(inst.ID, today().AddDate(0, 0, -10), today().AddDate(0, 0, -3))))

	result, err := c.Update(ctx, inst)
	require.NoError(t, err)

	runs, err := store.RecentCollectionRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.JobID, runs[0].JobID)
	assert.Equal(t, "update", runs[0].Kind)
	assert.Equal(t, 4, runs[0].RowsCollected)
}

func TestUpdateAll_CollectsPerInstrumentFailures(t *testing.T) {
	source := &fakeSource{}
	c, _, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()

	instruments := []models.Instrument{
		instrumentListedDaysAgo(30),
		{Symbol: "ETH"}, // invalid, fails validation
	}

	results, err := c.UpdateAll(ctx, instruments)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Len(t, results, 1)
}

func TestRefreshIndicators(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()

	require.NoError(t, store.UpsertPrices(ctx, genRange("bitcoin", today().AddDate(0, 0, -29), today())))

	count, err := c.RefreshIndicators(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 30, count)

	points, err := store.QueryIndicators(ctx, "bitcoin", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, points, 30)
}

func TestRefreshIndicators_TooLittleHistory(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()

	require.NoError(t, store.UpsertPrices(ctx, genRange("bitcoin", today().AddDate(0, 0, -5), today())))

	count, err := c.RefreshIndicators(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRefreshMetadata(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCollector(t, source, Config{})
	ctx := context.Background()

	inst := instrumentListedDaysAgo(10)
	require.NoError(t, c.RefreshMetadata(ctx, inst))

	meta, err := store.GetMetadata(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Bitcoin", meta.Name)
}
