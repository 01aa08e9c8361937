package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func priceRow(instrumentID string, date time.Time, close float64) models.DailyPrice {
	return models.DailyPrice{
		InstrumentID: instrumentID,
		Date:         date,
		Open:         close,
		High:         close * 1.01,
		Low:          close * 0.99,
		Close:        close,
	}
}

func seedPrices(t *testing.T, store *MemoryStorage, instrumentID string, days int) {
	t.Helper()
	rows := make([]models.DailyPrice, days)
	for i := 0; i < days; i++ {
		rows[i] = priceRow(instrumentID, day(i+1), 100+float64(i))
	}
	require.NoError(t, store.UpsertPrices(context.Background(), rows))
}

func TestMemoryStorage_UpsertIsIdempotent(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	row := priceRow("bitcoin", day(1), 100)
	require.NoError(t, store.UpsertPrices(ctx, []models.DailyPrice{row}))

	// Re-storing the same day replaces the row instead of duplicating it.
	row.Close = 150
	row.High = 160
	require.NoError(t, store.UpsertPrices(ctx, []models.DailyPrice{row}))

	resp, err := store.QueryPrices(ctx, QueryRequest{InstrumentID: "bitcoin"})
	require.NoError(t, err)
	require.Len(t, resp.Prices, 1)
	assert.Equal(t, 150.0, resp.Prices[0].Close)
}

func TestMemoryStorage_UpsertRejectsInvalidRows(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	good := priceRow("bitcoin", day(1), 100)
	bad := priceRow("bitcoin", day(2), 100)
	bad.Close = -5

	err := store.UpsertPrices(ctx, []models.DailyPrice{good, bad})
	require.Error(t, err)

	// Validation happens before any write.
	count, err := store.CountPrices(ctx, "bitcoin", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStorage_QueryPricesRange(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	seedPrices(t, store, "bitcoin", 10)

	resp, err := store.QueryPrices(ctx, QueryRequest{
		InstrumentID: "bitcoin",
		From:         day(3),
		To:           day(7),
	})
	require.NoError(t, err)
	require.Len(t, resp.Prices, 5)
	assert.Equal(t, 5, resp.Total)
	assert.False(t, resp.HasMore)

	// Ascending date order.
	for i := 1; i < len(resp.Prices); i++ {
		assert.True(t, resp.Prices[i].Date.After(resp.Prices[i-1].Date))
	}
}

func TestMemoryStorage_QueryPricesPagination(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	seedPrices(t, store, "bitcoin", 10)

	resp, err := store.QueryPrices(ctx, QueryRequest{
		InstrumentID: "bitcoin",
		Limit:        4,
		Offset:       8,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Prices, 2)
	assert.Equal(t, 10, resp.Total)
	assert.False(t, resp.HasMore)

	resp, err = store.QueryPrices(ctx, QueryRequest{InstrumentID: "bitcoin", Limit: 4})
	require.NoError(t, err)
	assert.Len(t, resp.Prices, 4)
	assert.True(t, resp.HasMore)
}

func TestMemoryStorage_LastDate(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	_, exists, err := store.LastDate(ctx, "bitcoin")
	require.NoError(t, err)
	assert.False(t, exists)

	seedPrices(t, store, "bitcoin", 5)
	last, exists, err := store.LastDate(ctx, "bitcoin")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, last.Equal(day(5)))
}

func TestMemoryStorage_Indicators(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	rsi := 65.5
	points := []models.IndicatorPoint{
		{InstrumentID: "bitcoin", Date: day(1), RSI14: &rsi, Trend: models.TrendBullish},
		{InstrumentID: "bitcoin", Date: day(2), Trend: models.TrendNeutral},
	}
	require.NoError(t, store.UpsertIndicators(ctx, points))

	// Upserting the same date replaces.
	points[1].Trend = models.TrendBearish
	require.NoError(t, store.UpsertIndicators(ctx, points[1:]))

	loaded, err := store.QueryIndicators(ctx, "bitcoin", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.NotNil(t, loaded[0].RSI14)
	assert.InDelta(t, 65.5, *loaded[0].RSI14, 1e-9)
	assert.Equal(t, models.TrendBearish, loaded[1].Trend)
}

func TestMemoryStorage_Metadata(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	missing, err := store.GetMetadata(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Nil(t, missing)

	rank := 1
	require.NoError(t, store.UpsertMetadata(ctx, &models.InstrumentMetadata{
		InstrumentID:  "bitcoin",
		Symbol:        "BTC",
		Name:          "Bitcoin",
		MarketCapRank: rank,
	}))

	meta, err := store.GetMetadata(ctx, "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Bitcoin", meta.Name)
}

func TestMemoryStorage_CollectionRuns(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	err := store.SaveCollectionStats(ctx, &CollectionRun{})
	require.Error(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.SaveCollectionStats(ctx, &CollectionRun{
			JobID:         string(rune('a' + i)),
			InstrumentID:  "bitcoin",
			Kind:          "backfill",
			Status:        "completed",
			RowsCollected: i * 100,
			Pages:         i,
			StartedAt:     day(i),
		}))
	}

	runs, err := store.RecentCollectionRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	// Most recent first.
	assert.Equal(t, 300, runs[0].RowsCollected)
	assert.Equal(t, 100, runs[2].RowsCollected)

	limited, err := store.RecentCollectionRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 300, limited[0].RowsCollected)
}

func TestMemoryStorage_GetStats(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	seedPrices(t, store, "bitcoin", 5)
	seedPrices(t, store, "ethereum", 3)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.TotalPrices)
	assert.Equal(t, 2, stats.TotalInstruments)
	assert.True(t, stats.EarliestDate.Equal(day(1)))
	assert.True(t, stats.LatestDate.Equal(day(5)))
}
