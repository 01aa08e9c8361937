package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/M1quelon/silver-octo-system/internal/models"
	"github.com/M1quelon/silver-octo-system/internal/storage"
)

// InstrumentSummary is the per-instrument slice of the cached market summary.
type InstrumentSummary struct {
	InstrumentID    string    `json:"instrument_id"`
	Symbol          string    `json:"symbol"`
	Date            string    `json:"date"`
	Close           float64   `json:"close"`
	PriceChange24h  *float64  `json:"price_change_24h,omitempty"`
	Volume          *float64  `json:"volume,omitempty"`
	MarketCap       *float64  `json:"market_cap,omitempty"`
	RSI14           *float64  `json:"rsi_14,omitempty"`
	MA7             *float64  `json:"ma_7,omitempty"`
	MA25            *float64  `json:"ma_25,omitempty"`
	MA99            *float64  `json:"ma_99,omitempty"`
	SupportLevel    *float64  `json:"support_level,omitempty"`
	ResistanceLevel *float64  `json:"resistance_level,omitempty"`
	Trend           string    `json:"trend,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MarketSummary is the full cached payload served between refresh slots.
type MarketSummary struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Instruments []InstrumentSummary `json:"instruments"`
}

// SummaryBuilder assembles a MarketSummary from stored prices and indicators.
// Its Fetch method plugs directly into a Cache.
type SummaryBuilder struct {
	store       storage.FullStorage
	instruments []models.Instrument
	now         func() time.Time
}

// NewSummaryBuilder creates a builder over the given instruments.
func NewSummaryBuilder(store storage.FullStorage, instruments []models.Instrument) *SummaryBuilder {
	return &SummaryBuilder{
		store:       store,
		instruments: instruments,
		now:         time.Now,
	}
}

// Fetch builds the summary payload. Instruments with no stored rows are
// skipped rather than failing the whole payload; building fails only when
// nothing at all is available.
func (b *SummaryBuilder) Fetch(ctx context.Context) (json.RawMessage, error) {
	now := b.now()
	summary := MarketSummary{GeneratedAt: now}

	for _, inst := range b.instruments {
		entry, err := b.buildInstrument(ctx, inst, now)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize %s: %w", inst.ID, err)
		}
		if entry == nil {
			continue
		}
		summary.Instruments = append(summary.Instruments, *entry)
	}

	if len(summary.Instruments) == 0 {
		return nil, fmt.Errorf("no stored data available for any instrument")
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	return data, nil
}

func (b *SummaryBuilder) buildInstrument(ctx context.Context, inst models.Instrument, now time.Time) (*InstrumentSummary, error) {
	last, exists, err := b.store.LastDate(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	resp, err := b.store.QueryPrices(ctx, storage.QueryRequest{
		InstrumentID: inst.ID,
		From:         last,
		To:           last,
		Limit:        1,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Prices) == 0 {
		return nil, nil
	}
	price := resp.Prices[0]

	entry := &InstrumentSummary{
		InstrumentID:   inst.ID,
		Symbol:         inst.Symbol,
		Date:           price.DateString(),
		Close:          price.Close,
		PriceChange24h: price.PriceChange24h,
		Volume:         price.Volume,
		MarketCap:      price.MarketCap,
		UpdatedAt:      now,
	}

	points, err := b.store.QueryIndicators(ctx, inst.ID, last, last)
	if err != nil {
		return nil, err
	}
	if len(points) > 0 {
		point := points[len(points)-1]
		entry.RSI14 = point.RSI14
		entry.MA7 = point.MA7
		entry.MA25 = point.MA25
		entry.MA99 = point.MA99
		entry.SupportLevel = point.SupportLevel
		entry.ResistanceLevel = point.ResistanceLevel
		entry.Trend = string(point.Trend)
	}

	return entry, nil
}
