// DuckDB-backed storage implementation. DuckDB's analytical engine fits the
// workload here: bulk daily upserts during collection, range scans during
// indicator computation, and aggregate queries for status reports.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

// DuckDBStorage implements FullStorage using DuckDB as the backend.
type DuckDBStorage struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBStorage creates a new DuckDB storage instance.
// The dbPath can be ":memory:" or a file path for persistent storage.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer pattern as recommended for DuckDB
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}, nil
}

// Initialize implements Manager.Initialize.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)

	if err := d.createPricesTable(ctx); err != nil {
		return NewStorageError("initialize", "daily_prices", fmt.Errorf("failed to create prices table: %w", err))
	}
	if err := d.createIndicatorsTable(ctx); err != nil {
		return NewStorageError("initialize", "technical_indicators", fmt.Errorf("failed to create indicators table: %w", err))
	}
	if err := d.createMetadataTable(ctx); err != nil {
		return NewStorageError("initialize", "instrument_metadata", fmt.Errorf("failed to create metadata table: %w", err))
	}
	if err := d.createRunsTable(ctx); err != nil {
		return NewStorageError("initialize", "collection_runs", fmt.Errorf("failed to create runs table: %w", err))
	}
	if err := d.createIndexes(ctx); err != nil {
		return NewStorageError("initialize", "", fmt.Errorf("failed to create indexes: %w", err))
	}

	d.logger.Info("DuckDB storage initialized successfully")
	return nil
}

func (d *DuckDBStorage) createPricesTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS daily_prices (
		instrument_id VARCHAR NOT NULL,
		date DATE NOT NULL,
		open DOUBLE NOT NULL,
		high DOUBLE NOT NULL,
		low DOUBLE NOT NULL,
		close DOUBLE NOT NULL,
		volume DOUBLE,
		market_cap DOUBLE,
		circulating_supply DOUBLE,
		total_supply DOUBLE,
		price_change_24h DOUBLE,
		volume_change_24h DOUBLE,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT daily_prices_pk PRIMARY KEY (instrument_id, date),
		CONSTRAINT daily_prices_ohlc_valid CHECK (high >= open AND high >= close AND low <= open AND low <= close),
		CONSTRAINT daily_prices_close_positive CHECK (close > 0)
	)`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DuckDBStorage) createIndicatorsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS technical_indicators (
		instrument_id VARCHAR NOT NULL,
		date DATE NOT NULL,
		rsi_14 DOUBLE,
		ma_7 DOUBLE,
		ma_25 DOUBLE,
		ma_99 DOUBLE,
		bollinger_upper DOUBLE,
		bollinger_middle DOUBLE,
		bollinger_lower DOUBLE,
		atr_14 DOUBLE,
		macd_line DOUBLE,
		macd_signal DOUBLE,
		macd_histogram DOUBLE,
		volatility_30d DOUBLE,
		support_level DOUBLE,
		resistance_level DOUBLE,
		trend VARCHAR,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT technical_indicators_pk PRIMARY KEY (instrument_id, date)
	)`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DuckDBStorage) createMetadataTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS instrument_metadata (
		instrument_id VARCHAR PRIMARY KEY,
		symbol VARCHAR NOT NULL,
		name VARCHAR,
		description VARCHAR,
		market_cap_rank INTEGER,
		circulating_supply DOUBLE,
		total_supply DOUBLE,
		max_supply DOUBLE,
		genesis_date VARCHAR,
		updated_at TIMESTAMPTZ NOT NULL
	)`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DuckDBStorage) createRunsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS collection_runs (
		job_id VARCHAR NOT NULL,
		instrument_id VARCHAR NOT NULL,
		kind VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		rows_collected INTEGER NOT NULL,
		pages INTEGER NOT NULL,
		failed_pages INTEGER NOT NULL,
		coverage DOUBLE NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		CONSTRAINT collection_runs_pk PRIMARY KEY (job_id)
	)`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DuckDBStorage) createIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_daily_prices_instrument ON daily_prices (instrument_id)",
		"CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices (date)",
		"CREATE INDEX IF NOT EXISTS idx_indicators_instrument ON technical_indicators (instrument_id)",
	}

	for _, indexQuery := range indexes {
		if _, err := d.db.ExecContext(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// UpsertPrices implements PriceStorer.UpsertPrices.
func (d *DuckDBStorage) UpsertPrices(ctx context.Context, prices []models.DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}

	start := time.Now()

	for i := range prices {
		if err := prices[i].Validate(); err != nil {
			return NewUpsertError("daily_prices", fmt.Errorf("invalid price at index %d: %w", i, err))
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewUpsertError("daily_prices", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_prices (
			instrument_id, date, open, high, low, close,
			volume, market_cap, circulating_supply, total_supply,
			price_change_24h, volume_change_24h
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			market_cap = EXCLUDED.market_cap,
			circulating_supply = EXCLUDED.circulating_supply,
			total_supply = EXCLUDED.total_supply,
			price_change_24h = EXCLUDED.price_change_24h,
			volume_change_24h = EXCLUDED.volume_change_24h`)
	if err != nil {
		return NewUpsertError("daily_prices", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer stmt.Close()

	for _, price := range prices {
		if _, err := stmt.ExecContext(ctx,
			price.InstrumentID,
			price.Day(),
			price.Open,
			price.High,
			price.Low,
			price.Close,
			price.Volume,
			price.MarketCap,
			price.CirculatingSupply,
			price.TotalSupply,
			price.PriceChange24h,
			price.VolumeChange24h,
		); err != nil {
			return NewUpsertError("daily_prices",
				fmt.Errorf("failed to upsert %s %s: %w", price.InstrumentID, price.DateString(), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewUpsertError("daily_prices", fmt.Errorf("failed to commit: %w", err))
	}

	d.logger.Debug("upserted price batch",
		"count", len(prices),
		"duration", time.Since(start))

	return nil
}

// QueryPrices implements PriceReader.QueryPrices.
func (d *DuckDBStorage) QueryPrices(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if req.InstrumentID == "" {
		return nil, NewQueryError("daily_prices", fmt.Errorf("instrument ID is required"))
	}

	start := time.Now()

	where, args := buildPriceFilter(req)

	var total int
	countQuery := "SELECT COUNT(*) FROM daily_prices " + where
	if err := d.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, NewQueryError("daily_prices", fmt.Errorf("failed to count rows: %w", err))
	}

	query := `
		SELECT instrument_id, date, open, high, low, close,
			volume, market_cap, circulating_supply, total_supply,
			price_change_24h, volume_change_24h
		FROM daily_prices ` + where + " ORDER BY date ASC"
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", req.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("daily_prices", fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	prices := make([]models.DailyPrice, 0, req.Limit)
	for rows.Next() {
		var p models.DailyPrice
		if err := rows.Scan(
			&p.InstrumentID,
			&p.Date,
			&p.Open,
			&p.High,
			&p.Low,
			&p.Close,
			&p.Volume,
			&p.MarketCap,
			&p.CirculatingSupply,
			&p.TotalSupply,
			&p.PriceChange24h,
			&p.VolumeChange24h,
		); err != nil {
			return nil, NewQueryError("daily_prices", fmt.Errorf("failed to scan row: %w", err))
		}
		p.Date = p.Date.UTC()
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("daily_prices", fmt.Errorf("row iteration failed: %w", err))
	}

	return &QueryResponse{
		Prices:    prices,
		Total:     total,
		HasMore:   req.Limit > 0 && req.Offset+len(prices) < total,
		QueryTime: time.Since(start),
	}, nil
}

func buildPriceFilter(req QueryRequest) (string, []any) {
	clauses := []string{"instrument_id = ?"}
	args := []any{req.InstrumentID}

	if !req.From.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, req.From)
	}
	if !req.To.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, req.To)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// LastDate implements PriceReader.LastDate.
func (d *DuckDBStorage) LastDate(ctx context.Context, instrumentID string) (time.Time, bool, error) {
	var last sql.NullTime
	err := d.db.QueryRowContext(ctx,
		"SELECT MAX(date) FROM daily_prices WHERE instrument_id = ?", instrumentID).Scan(&last)
	if err != nil {
		return time.Time{}, false, NewQueryError("daily_prices", fmt.Errorf("failed to query last date: %w", err))
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time.UTC(), true, nil
}

// CountPrices implements PriceReader.CountPrices.
func (d *DuckDBStorage) CountPrices(ctx context.Context, instrumentID string, from, to time.Time) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM daily_prices WHERE instrument_id = ? AND date >= ? AND date <= ?",
		instrumentID, from, to).Scan(&count)
	if err != nil {
		return 0, NewQueryError("daily_prices", fmt.Errorf("failed to count rows: %w", err))
	}
	return count, nil
}

// UpsertIndicators implements IndicatorStorer.UpsertIndicators.
func (d *DuckDBStorage) UpsertIndicators(ctx context.Context, points []models.IndicatorPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewUpsertError("technical_indicators", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO technical_indicators (
			instrument_id, date, rsi_14, ma_7, ma_25, ma_99,
			bollinger_upper, bollinger_middle, bollinger_lower,
			atr_14, macd_line, macd_signal, macd_histogram,
			volatility_30d, support_level, resistance_level, trend
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, date) DO UPDATE SET
			rsi_14 = EXCLUDED.rsi_14,
			ma_7 = EXCLUDED.ma_7,
			ma_25 = EXCLUDED.ma_25,
			ma_99 = EXCLUDED.ma_99,
			bollinger_upper = EXCLUDED.bollinger_upper,
			bollinger_middle = EXCLUDED.bollinger_middle,
			bollinger_lower = EXCLUDED.bollinger_lower,
			atr_14 = EXCLUDED.atr_14,
			macd_line = EXCLUDED.macd_line,
			macd_signal = EXCLUDED.macd_signal,
			macd_histogram = EXCLUDED.macd_histogram,
			volatility_30d = EXCLUDED.volatility_30d,
			support_level = EXCLUDED.support_level,
			resistance_level = EXCLUDED.resistance_level,
			trend = EXCLUDED.trend`)
	if err != nil {
		return NewUpsertError("technical_indicators", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer stmt.Close()

	for _, point := range points {
		if _, err := stmt.ExecContext(ctx,
			point.InstrumentID,
			point.Date,
			point.RSI14,
			point.MA7,
			point.MA25,
			point.MA99,
			point.BollingerUpper,
			point.BollingerMiddle,
			point.BollingerLower,
			point.ATR14,
			point.MACDLine,
			point.MACDSignal,
			point.MACDHistogram,
			point.Volatility30d,
			point.SupportLevel,
			point.ResistanceLevel,
			string(point.Trend),
		); err != nil {
			return NewUpsertError("technical_indicators",
				fmt.Errorf("failed to upsert %s %s: %w", point.InstrumentID, point.DateString(), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewUpsertError("technical_indicators", fmt.Errorf("failed to commit: %w", err))
	}

	d.logger.Debug("upserted indicator batch", "count", len(points))
	return nil
}

// QueryIndicators implements IndicatorStorer.QueryIndicators.
func (d *DuckDBStorage) QueryIndicators(ctx context.Context, instrumentID string, from, to time.Time) ([]models.IndicatorPoint, error) {
	if instrumentID == "" {
		return nil, NewQueryError("technical_indicators", fmt.Errorf("instrument ID is required"))
	}

	clauses := []string{"instrument_id = ?"}
	args := []any{instrumentID}
	if !from.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, to)
	}

	query := `
		SELECT instrument_id, date, rsi_14, ma_7, ma_25, ma_99,
			bollinger_upper, bollinger_middle, bollinger_lower,
			atr_14, macd_line, macd_signal, macd_histogram,
			volatility_30d, support_level, resistance_level, trend
		FROM technical_indicators
		WHERE ` + strings.Join(clauses, " AND ") + " ORDER BY date ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("technical_indicators", fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var points []models.IndicatorPoint
	for rows.Next() {
		var p models.IndicatorPoint
		var trend sql.NullString
		if err := rows.Scan(
			&p.InstrumentID,
			&p.Date,
			&p.RSI14,
			&p.MA7,
			&p.MA25,
			&p.MA99,
			&p.BollingerUpper,
			&p.BollingerMiddle,
			&p.BollingerLower,
			&p.ATR14,
			&p.MACDLine,
			&p.MACDSignal,
			&p.MACDHistogram,
			&p.Volatility30d,
			&p.SupportLevel,
			&p.ResistanceLevel,
			&trend,
		); err != nil {
			return nil, NewQueryError("technical_indicators", fmt.Errorf("failed to scan row: %w", err))
		}
		p.Date = p.Date.UTC()
		if trend.Valid {
			p.Trend = models.Trend(trend.String)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("technical_indicators", fmt.Errorf("row iteration failed: %w", err))
	}

	return points, nil
}

// UpsertMetadata implements MetadataStorer.UpsertMetadata.
func (d *DuckDBStorage) UpsertMetadata(ctx context.Context, meta *models.InstrumentMetadata) error {
	if meta == nil || meta.InstrumentID == "" {
		return NewUpsertError("instrument_metadata", fmt.Errorf("metadata with instrument ID is required"))
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO instrument_metadata (
			instrument_id, symbol, name, description, market_cap_rank,
			circulating_supply, total_supply, max_supply, genesis_date, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			market_cap_rank = EXCLUDED.market_cap_rank,
			circulating_supply = EXCLUDED.circulating_supply,
			total_supply = EXCLUDED.total_supply,
			max_supply = EXCLUDED.max_supply,
			genesis_date = EXCLUDED.genesis_date,
			updated_at = EXCLUDED.updated_at`,
		meta.InstrumentID,
		meta.Symbol,
		meta.Name,
		meta.Description,
		meta.MarketCapRank,
		meta.CirculatingSupply,
		meta.TotalSupply,
		meta.MaxSupply,
		meta.GenesisDate,
		meta.UpdatedAt,
	)
	if err != nil {
		return NewUpsertError("instrument_metadata", fmt.Errorf("failed to upsert %s: %w", meta.InstrumentID, err))
	}

	return nil
}

// GetMetadata implements MetadataStorer.GetMetadata.
func (d *DuckDBStorage) GetMetadata(ctx context.Context, instrumentID string) (*models.InstrumentMetadata, error) {
	var meta models.InstrumentMetadata
	err := d.db.QueryRowContext(ctx, `
		SELECT instrument_id, symbol, name, description, market_cap_rank,
			circulating_supply, total_supply, max_supply, genesis_date, updated_at
		FROM instrument_metadata WHERE instrument_id = ?`, instrumentID).Scan(
		&meta.InstrumentID,
		&meta.Symbol,
		&meta.Name,
		&meta.Description,
		&meta.MarketCapRank,
		&meta.CirculatingSupply,
		&meta.TotalSupply,
		&meta.MaxSupply,
		&meta.GenesisDate,
		&meta.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("instrument_metadata", fmt.Errorf("failed to query metadata: %w", err))
	}
	return &meta, nil
}

// SaveCollectionStats implements StatsStorer.SaveCollectionStats.
func (d *DuckDBStorage) SaveCollectionStats(ctx context.Context, run *CollectionRun) error {
	if run == nil || run.InstrumentID == "" {
		return NewUpsertError("collection_runs", fmt.Errorf("run with instrument ID is required"))
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO collection_runs (
			job_id, instrument_id, kind, status, rows_collected,
			pages, failed_pages, coverage, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID,
		run.InstrumentID,
		run.Kind,
		run.Status,
		run.RowsCollected,
		run.Pages,
		run.FailedPages,
		run.Coverage,
		run.StartedAt,
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return NewUpsertError("collection_runs", fmt.Errorf("failed to insert run %s: %w", run.JobID, err))
	}

	return nil
}

// RecentCollectionRuns implements StatsStorer.RecentCollectionRuns.
func (d *DuckDBStorage) RecentCollectionRuns(ctx context.Context, limit int) ([]CollectionRun, error) {
	query := `
		SELECT job_id, instrument_id, kind, status, rows_collected,
			pages, failed_pages, coverage, started_at, duration_ms
		FROM collection_runs ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewQueryError("collection_runs", fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var runs []CollectionRun
	for rows.Next() {
		var r CollectionRun
		var durationMs int64
		if err := rows.Scan(
			&r.JobID,
			&r.InstrumentID,
			&r.Kind,
			&r.Status,
			&r.RowsCollected,
			&r.Pages,
			&r.FailedPages,
			&r.Coverage,
			&r.StartedAt,
			&durationMs,
		); err != nil {
			return nil, NewQueryError("collection_runs", fmt.Errorf("failed to scan row: %w", err))
		}
		r.StartedAt = r.StartedAt.UTC()
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("collection_runs", fmt.Errorf("row iteration failed: %w", err))
	}

	return runs, nil
}

// HealthCheck implements Manager.HealthCheck.
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return NewStorageError("health_check", "", err)
	}
	return nil
}

// GetStats implements Manager.GetStats.
func (d *DuckDBStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	var earliest, latest sql.NullTime
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT instrument_id), MIN(date), MAX(date)
		FROM daily_prices`).Scan(&stats.TotalPrices, &stats.TotalInstruments, &earliest, &latest)
	if err != nil {
		return nil, NewQueryError("daily_prices", fmt.Errorf("failed to query stats: %w", err))
	}
	if earliest.Valid {
		stats.EarliestDate = earliest.Time.UTC()
	}
	if latest.Valid {
		stats.LatestDate = latest.Time.UTC()
	}

	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM technical_indicators").Scan(&stats.TotalIndicators); err != nil {
		return nil, NewQueryError("technical_indicators", fmt.Errorf("failed to query stats: %w", err))
	}

	return stats, nil
}

// Close implements Manager.Close.
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
