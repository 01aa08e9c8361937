package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

// MemoryStorage implements FullStorage entirely in memory. It is used by
// tests and as a scratch backend for local experiments. All operations are
// safe for concurrent use.
type MemoryStorage struct {
	mu         sync.RWMutex
	prices     map[string]map[time.Time]models.DailyPrice
	indicators map[string]map[time.Time]models.IndicatorPoint
	metadata   map[string]models.InstrumentMetadata
	runs       []CollectionRun
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		prices:     make(map[string]map[time.Time]models.DailyPrice),
		indicators: make(map[string]map[time.Time]models.IndicatorPoint),
		metadata:   make(map[string]models.InstrumentMetadata),
	}
}

// Initialize implements Manager.Initialize.
func (m *MemoryStorage) Initialize(ctx context.Context) error { return nil }

// Close implements Manager.Close.
func (m *MemoryStorage) Close() error { return nil }

// HealthCheck implements Manager.HealthCheck.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error { return ctx.Err() }

// UpsertPrices implements PriceStorer.UpsertPrices.
func (m *MemoryStorage) UpsertPrices(ctx context.Context, prices []models.DailyPrice) error {
	for i := range prices {
		if err := prices[i].Validate(); err != nil {
			return NewUpsertError("daily_prices", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, price := range prices {
		day := price.Day()
		byDay, ok := m.prices[price.InstrumentID]
		if !ok {
			byDay = make(map[time.Time]models.DailyPrice)
			m.prices[price.InstrumentID] = byDay
		}
		price.Date = day
		byDay[day] = price
	}

	return nil
}

// QueryPrices implements PriceReader.QueryPrices.
func (m *MemoryStorage) QueryPrices(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	m.mu.RLock()
	byDay := m.prices[req.InstrumentID]
	matched := make([]models.DailyPrice, 0, len(byDay))
	for day, price := range byDay {
		if !req.From.IsZero() && day.Before(req.From) {
			continue
		}
		if !req.To.IsZero() && day.After(req.To) {
			continue
		}
		matched = append(matched, price)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Date.Before(matched[j].Date)
	})

	total := len(matched)
	if req.Offset > 0 {
		if req.Offset >= total {
			matched = nil
		} else {
			matched = matched[req.Offset:]
		}
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}

	return &QueryResponse{
		Prices:    matched,
		Total:     total,
		HasMore:   req.Limit > 0 && req.Offset+len(matched) < total,
		QueryTime: time.Since(start),
	}, nil
}

// LastDate implements PriceReader.LastDate.
func (m *MemoryStorage) LastDate(ctx context.Context, instrumentID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDay := m.prices[instrumentID]
	if len(byDay) == 0 {
		return time.Time{}, false, nil
	}

	var last time.Time
	for day := range byDay {
		if day.After(last) {
			last = day
		}
	}
	return last, true, nil
}

// CountPrices implements PriceReader.CountPrices.
func (m *MemoryStorage) CountPrices(ctx context.Context, instrumentID string, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for day := range m.prices[instrumentID] {
		if day.Before(from) || day.After(to) {
			continue
		}
		count++
	}
	return count, nil
}

// UpsertIndicators implements IndicatorStorer.UpsertIndicators.
func (m *MemoryStorage) UpsertIndicators(ctx context.Context, points []models.IndicatorPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, point := range points {
		byDay, ok := m.indicators[point.InstrumentID]
		if !ok {
			byDay = make(map[time.Time]models.IndicatorPoint)
			m.indicators[point.InstrumentID] = byDay
		}
		byDay[point.Date] = point
	}

	return nil
}

// QueryIndicators implements IndicatorStorer.QueryIndicators.
func (m *MemoryStorage) QueryIndicators(ctx context.Context, instrumentID string, from, to time.Time) ([]models.IndicatorPoint, error) {
	m.mu.RLock()
	byDay := m.indicators[instrumentID]
	matched := make([]models.IndicatorPoint, 0, len(byDay))
	for day, point := range byDay {
		if !from.IsZero() && day.Before(from) {
			continue
		}
		if !to.IsZero() && day.After(to) {
			continue
		}
		matched = append(matched, point)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Date.Before(matched[j].Date)
	})

	return matched, nil
}

// UpsertMetadata implements MetadataStorer.UpsertMetadata.
func (m *MemoryStorage) UpsertMetadata(ctx context.Context, meta *models.InstrumentMetadata) error {
	if meta == nil || meta.InstrumentID == "" {
		return NewUpsertError("instrument_metadata", models.ValidationError{Field: "InstrumentID", Message: "instrument ID is required"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[meta.InstrumentID] = *meta
	return nil
}

// GetMetadata implements MetadataStorer.GetMetadata.
func (m *MemoryStorage) GetMetadata(ctx context.Context, instrumentID string) (*models.InstrumentMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.metadata[instrumentID]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

// SaveCollectionStats implements StatsStorer.SaveCollectionStats.
func (m *MemoryStorage) SaveCollectionStats(ctx context.Context, run *CollectionRun) error {
	if run == nil || run.InstrumentID == "" {
		return NewUpsertError("collection_runs", models.ValidationError{Field: "InstrumentID", Message: "instrument ID is required"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

// RecentCollectionRuns implements StatsStorer.RecentCollectionRuns.
func (m *MemoryStorage) RecentCollectionRuns(ctx context.Context, limit int) ([]CollectionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Runs are appended in order, so newest first means walking backwards.
	out := make([]CollectionRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetStats implements Manager.GetStats.
func (m *MemoryStorage) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalInstruments: len(m.prices)}
	for _, byDay := range m.prices {
		stats.TotalPrices += int64(len(byDay))
		for day := range byDay {
			if stats.EarliestDate.IsZero() || day.Before(stats.EarliestDate) {
				stats.EarliestDate = day
			}
			if day.After(stats.LatestDate) {
				stats.LatestDate = day
			}
		}
	}
	for _, byDay := range m.indicators {
		stats.TotalIndicators += int64(len(byDay))
	}

	return stats, nil
}
