// Package provider implements the upstream market data API client used to
// collect daily price history. The client enforces a minimum spacing between
// requests and backs off for a full cooldown window when the upstream starts
// rate limiting.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/M1quelon/silver-octo-system/internal/metrics"
	"github.com/M1quelon/silver-octo-system/internal/models"
)

// Source is the read interface the collector and cache depend on.
type Source interface {
	HistoryFetcher
	MetadataFetcher
}

// HistoryFetcher fetches daily price history for an instrument.
type HistoryFetcher interface {
	// HistoryRange returns daily rows covering [from, to]. Rows are returned
	// in ascending date order with at most one row per UTC day.
	HistoryRange(ctx context.Context, instrumentID string, from, to time.Time) ([]models.DailyPrice, error)

	// History returns daily rows for the most recent days.
	History(ctx context.Context, instrumentID string, days int) ([]models.DailyPrice, error)
}

// MetadataFetcher fetches descriptive instrument fields.
type MetadataFetcher interface {
	Metadata(ctx context.Context, instrumentID string) (*models.InstrumentMetadata, error)
}

// StatsReporter exposes request counters for status displays.
type StatsReporter interface {
	Stats() metrics.RequestStats
}

// RangeRequest describes one history fetch. It exists so callers can validate
// parameters before paying for a request slot.
type RangeRequest struct {
	InstrumentID string
	From         time.Time
	To           time.Time
}

// Validate checks the request parameters.
func (r RangeRequest) Validate() error {
	if r.InstrumentID == "" {
		return models.ValidationError{Field: "InstrumentID", Message: "instrument ID is required"}
	}
	if r.From.IsZero() || r.To.IsZero() {
		return models.ValidationError{Field: "From", Message: "both range endpoints are required"}
	}
	if r.From.After(r.To) {
		return models.ValidationError{Field: "From", Message: fmt.Sprintf("range start %s is after end %s", r.From.Format(time.DateOnly), r.To.Format(time.DateOnly))}
	}
	return nil
}
