// Package models provides data structures and validation for crypto market data.
// This package contains the core data models for the ingestion engine including
// instruments, daily price rows, derived indicator rows, and collection progress.
package models

import (
	"fmt"
	"time"
)

// Instrument represents a tracked crypto asset. The ID is the provider-side
// identifier (e.g. "bitcoin"), the Symbol is the display ticker (e.g. "BTC").
// Instruments are immutable once registered.
type Instrument struct {
	ID     string `json:"id" db:"instrument_id"`
	Symbol string `json:"symbol" db:"symbol"`

	// ListedAt bounds historical backfill: no daily data is requested for
	// dates before the instrument first traded.
	ListedAt time.Time `json:"listed_at" db:"listed_at"`
}

// Validate checks that the instrument identity is complete.
func (i Instrument) Validate() error {
	if i.ID == "" {
		return &ValidationError{Field: "id", Message: "instrument ID cannot be empty"}
	}
	if i.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "instrument symbol cannot be empty"}
	}
	if i.ListedAt.IsZero() {
		return &ValidationError{Field: "listed_at", Message: "listing date is required"}
	}
	return nil
}

// DefaultRegistry returns the built-in set of tracked instruments with their
// first-listing dates, ordered by collection priority.
func DefaultRegistry() []Instrument {
	return []Instrument{
		{ID: "bitcoin", Symbol: "BTC", ListedAt: date(2017, 1, 1)},
		{ID: "ethereum", Symbol: "ETH", ListedAt: date(2017, 1, 1)},
		{ID: "binancecoin", Symbol: "BNB", ListedAt: date(2017, 7, 1)},
		{ID: "solana", Symbol: "SOL", ListedAt: date(2020, 3, 1)},
		{ID: "cardano", Symbol: "ADA", ListedAt: date(2017, 10, 1)},
		{ID: "avalanche-2", Symbol: "AVAX", ListedAt: date(2020, 9, 1)},
		{ID: "ripple", Symbol: "XRP", ListedAt: date(2017, 1, 1)},
		{ID: "polkadot", Symbol: "DOT", ListedAt: date(2020, 5, 1)},
		{ID: "chainlink", Symbol: "LINK", ListedAt: date(2019, 5, 1)},
		{ID: "polygon", Symbol: "MATIC", ListedAt: date(2019, 4, 1)},
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidationError represents a model validation error with field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}
