// Package storage defines the persistence layer for daily price history and
// derived indicators. Interfaces abstract over the DuckDB backend and the
// in-memory implementation used in tests.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

// PriceStorer handles daily price writes. Writes are upserts keyed on
// (instrument, date): storing a row for an existing day replaces it.
type PriceStorer interface {
	// UpsertPrices persists a batch of daily rows. All rows are validated
	// before any row is written.
	UpsertPrices(ctx context.Context, prices []models.DailyPrice) error
}

// PriceReader handles daily price retrieval.
type PriceReader interface {
	// QueryPrices retrieves rows matching the request in ascending date order.
	QueryPrices(ctx context.Context, req QueryRequest) (*QueryResponse, error)

	// LastDate returns the most recent stored date for an instrument.
	// The bool result is false when the instrument has no rows.
	LastDate(ctx context.Context, instrumentID string) (time.Time, bool, error)

	// CountPrices returns the number of stored rows for an instrument within
	// the inclusive range [from, to].
	CountPrices(ctx context.Context, instrumentID string, from, to time.Time) (int64, error)
}

// IndicatorStorer handles derived indicator persistence. Rows are upserts
// keyed on (instrument, date), matching the price rows they derive from.
type IndicatorStorer interface {
	UpsertIndicators(ctx context.Context, points []models.IndicatorPoint) error

	// QueryIndicators retrieves indicator rows for an instrument in ascending
	// date order. Zero-valued from/to mean an unbounded range.
	QueryIndicators(ctx context.Context, instrumentID string, from, to time.Time) ([]models.IndicatorPoint, error)
}

// StatsStorer records per-run collection accounting for operational review.
type StatsStorer interface {
	// SaveCollectionStats appends one collection run record.
	SaveCollectionStats(ctx context.Context, run *CollectionRun) error

	// RecentCollectionRuns returns up to limit runs, most recent first.
	// A limit of 0 means no limit.
	RecentCollectionRuns(ctx context.Context, limit int) ([]CollectionRun, error)
}

// MetadataStorer handles instrument metadata persistence.
type MetadataStorer interface {
	UpsertMetadata(ctx context.Context, meta *models.InstrumentMetadata) error

	// GetMetadata returns nil when no metadata is stored for the instrument.
	GetMetadata(ctx context.Context, instrumentID string) (*models.InstrumentMetadata, error)
}

// Manager handles storage lifecycle and operational concerns.
type Manager interface {
	// Initialize prepares the backend for operation, creating tables and
	// indexes. Safe to call more than once.
	Initialize(ctx context.Context) error

	// Close releases connections and flushes pending writes.
	Close() error

	// HealthCheck verifies the backend is reachable with a lightweight query.
	HealthCheck(ctx context.Context) error

	// GetStats returns data volume statistics for status displays.
	GetStats(ctx context.Context) (*Stats, error)
}

// PriceStorage combines price reads and writes.
type PriceStorage interface {
	PriceStorer
	PriceReader
}

// FullStorage is the complete persistence surface the application wires up.
type FullStorage interface {
	PriceStorage
	IndicatorStorer
	MetadataStorer
	StatsStorer
	Manager
}

// QueryRequest defines parameters for querying stored daily prices.
type QueryRequest struct {
	// InstrumentID filters rows to one instrument. Required.
	InstrumentID string

	// From is the earliest date to include (inclusive). Zero means unbounded.
	From time.Time

	// To is the latest date to include (inclusive). Zero means unbounded.
	To time.Time

	// Limit caps the number of results (0 = no limit).
	Limit int

	// Offset skips results for pagination.
	Offset int
}

// QueryResponse contains the results of a price query.
type QueryResponse struct {
	// Prices holds the matching rows in ascending date order.
	Prices []models.DailyPrice

	// Total is the number of matches before limit/offset.
	Total int

	// HasMore indicates more results exist beyond the current page.
	HasMore bool

	// QueryTime is the duration taken to execute the query.
	QueryTime time.Duration
}

// CollectionRun is one row of collection accounting: what a backfill or
// update run fetched, how long it took, and how it ended.
type CollectionRun struct {
	JobID         string        `json:"job_id"`
	InstrumentID  string        `json:"instrument_id"`
	Kind          string        `json:"kind"`
	Status        string        `json:"status"`
	RowsCollected int           `json:"rows_collected"`
	Pages         int           `json:"pages"`
	FailedPages   int           `json:"failed_pages"`
	Coverage      float64       `json:"coverage"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Stats provides data volume statistics about the store.
type Stats struct {
	TotalPrices      int64     `json:"total_prices"`
	TotalIndicators  int64     `json:"total_indicators"`
	TotalInstruments int       `json:"total_instruments"`
	EarliestDate     time.Time `json:"earliest_date"`
	LatestDate       time.Time `json:"latest_date"`
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g. "upsert", "query")
	Operation string

	// Table is the database table involved in the operation
	Table string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewQueryError creates a StorageError for query operations.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}

// NewUpsertError creates a StorageError for upsert operations.
func NewUpsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "upsert", Table: table, Err: err}
}
