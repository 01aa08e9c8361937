// Package gaps detects missing days in stored daily price history and
// repairs them with targeted range fetches. Daily data has no market close,
// so every UTC day between the first and last stored row is expected to have
// exactly one row.
package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/M1quelon/silver-octo-system/internal/provider"
	"github.com/M1quelon/silver-octo-system/internal/storage"
)

// Gap is a contiguous run of missing UTC days for one instrument.
type Gap struct {
	InstrumentID string    `json:"instrument_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Days         int       `json:"days"`
}

// String returns a compact description for logs and CLI output.
func (g Gap) String() string {
	if g.Days == 1 {
		return fmt.Sprintf("%s: %s (1 day)", g.InstrumentID, g.Start.Format(time.DateOnly))
	}
	return fmt.Sprintf("%s: %s to %s (%d days)",
		g.InstrumentID, g.Start.Format(time.DateOnly), g.End.Format(time.DateOnly), g.Days)
}

// Detector scans stored history for missing days.
type Detector struct {
	store  storage.PriceReader
	logger *slog.Logger
}

// NewDetector creates a Detector over the given store.
func NewDetector(store storage.PriceReader, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, logger: logger}
}

// Detect returns the gaps within [from, to] for an instrument. Zero-valued
// bounds default to the instrument's stored range, so Detect with zero bounds
// audits everything that has been collected. Days before the first stored row
// are not gaps: the instrument may simply not have traded yet.
func (d *Detector) Detect(ctx context.Context, instrumentID string, from, to time.Time) ([]Gap, error) {
	resp, err := d.store.QueryPrices(ctx, storage.QueryRequest{
		InstrumentID: instrumentID,
		From:         from,
		To:           to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load stored history: %w", err)
	}
	if len(resp.Prices) == 0 {
		return nil, nil
	}

	stored := make(map[time.Time]bool, len(resp.Prices))
	for _, p := range resp.Prices {
		stored[p.Day()] = true
	}

	first := resp.Prices[0].Day()
	last := resp.Prices[len(resp.Prices)-1].Day()
	if !from.IsZero() && dayOf(from).After(first) {
		first = dayOf(from)
	}
	if !to.IsZero() && dayOf(to).Before(last) {
		last = dayOf(to)
	}

	var gaps []Gap
	var open *Gap
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if stored[day] {
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Gap{InstrumentID: instrumentID, Start: day, End: day, Days: 1}
		} else {
			open.End = day
			open.Days++
		}
	}
	if open != nil {
		gaps = append(gaps, *open)
	}

	d.logger.Debug("Gap scan finished",
		"instrument", instrumentID,
		"range_start", first.Format(time.DateOnly),
		"range_end", last.Format(time.DateOnly),
		"gaps", len(gaps),
	)
	return gaps, nil
}

// Repairer fills detected gaps with targeted range fetches.
type Repairer struct {
	source provider.HistoryFetcher
	store  storage.PriceStorer
	logger *slog.Logger
}

// NewRepairer creates a Repairer.
func NewRepairer(source provider.HistoryFetcher, store storage.PriceStorer, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{source: source, store: store, logger: logger}
}

// Repair fetches and stores the rows covering each gap. Gaps that still come
// back empty are counted as unresolved rather than failing the run; the
// upstream may genuinely have no data for those days.
func (r *Repairer) Repair(ctx context.Context, gaps []Gap) (recovered int, unresolved int, err error) {
	for _, gap := range gaps {
		prices, fetchErr := r.source.HistoryRange(ctx, gap.InstrumentID, gap.Start, gap.End)
		if fetchErr != nil {
			return recovered, unresolved, fmt.Errorf("failed to fetch %s: %w", gap, fetchErr)
		}
		if len(prices) == 0 {
			unresolved++
			r.logger.Warn("Gap has no upstream data", "gap", gap.String())
			continue
		}

		if storeErr := r.store.UpsertPrices(ctx, prices); storeErr != nil {
			return recovered, unresolved, fmt.Errorf("failed to store rows for %s: %w", gap, storeErr)
		}
		recovered += len(prices)
		r.logger.Info("Repaired gap", "gap", gap.String(), "rows", len(prices))
	}
	return recovered, unresolved, nil
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
