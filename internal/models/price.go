package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyPrice represents one day of market data for an instrument. The row is
// uniquely keyed by (InstrumentID, Date); a second write for the same key
// fully replaces the first. The provider delivers a single daily price point,
// so Open/High/Low/Close may coincide for instruments without true OHLC data.
type DailyPrice struct {
	InstrumentID string    `json:"instrument_id" db:"instrument_id"`
	Date         time.Time `json:"date" db:"date"`
	Open         float64   `json:"open" db:"open"`
	High         float64   `json:"high" db:"high"`
	Low          float64   `json:"low" db:"low"`
	Close        float64   `json:"close" db:"close"`

	// Nullable metrics: nil means the provider did not report a value.
	Volume            *float64 `json:"volume" db:"volume"`
	MarketCap         *float64 `json:"market_cap" db:"market_cap"`
	CirculatingSupply *float64 `json:"circulating_supply" db:"circulating_supply"`
	TotalSupply       *float64 `json:"total_supply" db:"total_supply"`
	PriceChange24h    *float64 `json:"price_change_24h" db:"price_change_24h"`
	VolumeChange24h   *float64 `json:"volume_change_24h" db:"volume_change_24h"`
}

// Validate performs validation on the daily price row: a non-zero date,
// positive close, OHLC consistency and non-negative volume.
func (p *DailyPrice) Validate() error {
	if p.InstrumentID == "" {
		return &ValidationError{Field: "instrument_id", Message: "instrument ID cannot be empty"}
	}
	if p.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date cannot be zero"}
	}
	if p.Close <= 0 {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if p.Open <= 0 || p.High <= 0 || p.Low <= 0 {
		return &ValidationError{Field: "open", Message: "prices must be greater than 0"}
	}
	if p.High < p.Open || p.High < p.Close {
		return &ValidationError{Field: "high", Message: "high must be at least max(open, close)"}
	}
	if p.Low > p.Open || p.Low > p.Close {
		return &ValidationError{Field: "low", Message: "low must be at most min(open, close)"}
	}
	if p.Volume != nil && *p.Volume < 0 {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	return nil
}

// Day returns the row date truncated to UTC midnight.
func (p *DailyPrice) Day() time.Time {
	return time.Date(p.Date.Year(), p.Date.Month(), p.Date.Day(), 0, 0, 0, 0, time.UTC)
}

// DateString returns the row date in the canonical YYYY-MM-DD form used by
// storage keys and the persisted schemas.
func (p *DailyPrice) DateString() string {
	return p.Date.Format(time.DateOnly)
}

// PercentChange computes ((current - previous) / previous) * 100 with decimal
// precision. Returns nil when previous is zero, which mirrors a missing value
// rather than a division error.
func PercentChange(previous, current float64) *float64 {
	if previous == 0 {
		return nil
	}
	prev := decimal.NewFromFloat(previous)
	cur := decimal.NewFromFloat(current)
	hundred := decimal.NewFromInt(100)
	change, _ := cur.Sub(prev).Div(prev).Mul(hundred).Float64()
	return &change
}
