package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/M1quelon/silver-octo-system/internal/errors"
	"github.com/M1quelon/silver-octo-system/internal/metrics"
	"github.com/M1quelon/silver-octo-system/internal/models"
)

const (
	// API endpoints
	marketChartEndpoint      = "/coins/%s/market_chart"
	marketChartRangeEndpoint = "/coins/%s/market_chart/range"
	coinInfoEndpoint         = "/coins/%s"

	// Request configuration
	requestTimeout = 30 * time.Second
	userAgent      = "marketd/1.0"
)

// Client is a rate limited CoinGecko API client. All requests pass through a
// shared pacer so concurrent callers still respect the minimum inter-request
// delay, and a 429 response pauses every caller for the cooldown window.
type Client struct {
	httpClient *http.Client
	pacer      *rate.Limiter
	baseURL    string
	apiKey     string
	currency   string
	logger     *slog.Logger
	retry      apperrors.BackoffPolicy
	counters   metrics.RequestCounter

	cooldownMu    sync.Mutex
	cooldownUntil time.Time
	cooldownPause time.Duration
}

// ClientOptions configures a Client. Zero fields fall back to defaults.
type ClientOptions struct {
	BaseURL        string
	APIKey         string
	Currency       string
	RequestDelay   time.Duration
	RateLimitPause time.Duration
	Timeout        time.Duration
	Retry          apperrors.BackoffPolicy
	Logger         *slog.Logger
}

// NewClient creates a new rate limited API client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = 100 * time.Millisecond
	}
	if opts.RateLimitPause <= 0 {
		opts.RateLimitPause = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = requestTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = apperrors.DefaultBackoffPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		pacer:         rate.NewLimiter(rate.Every(opts.RequestDelay), 1),
		baseURL:       opts.BaseURL,
		apiKey:        opts.APIKey,
		currency:      opts.Currency,
		logger:        opts.Logger,
		retry:         opts.Retry,
		cooldownPause: opts.RateLimitPause,
	}
}

// HistoryRange implements HistoryFetcher.
func (c *Client) HistoryRange(ctx context.Context, instrumentID string, from, to time.Time) ([]models.DailyPrice, error) {
	req := RangeRequest{InstrumentID: instrumentID, From: from, To: to}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	c.logger.Debug("fetching price history range",
		"instrument", instrumentID,
		"from", from.Format(time.DateOnly),
		"to", to.Format(time.DateOnly))

	params := url.Values{}
	params.Set("vs_currency", c.currency)
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	// The range endpoint's upper bound is exclusive at day resolution, extend
	// it to the end of the final day so that day's sample is included.
	params.Set("to", strconv.FormatInt(to.Add(24*time.Hour).Unix(), 10))

	requestURL := fmt.Sprintf(c.baseURL+marketChartRangeEndpoint, url.PathEscape(instrumentID)) + "?" + params.Encode()

	body, err := c.getWithRetry(ctx, requestURL, "history_range")
	if err != nil {
		return nil, err
	}

	var chart marketChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "provider", "history_range",
			fmt.Errorf("failed to parse market chart response: %w", err))
	}

	prices := c.normalizeChart(instrumentID, chart)
	c.logger.Debug("fetched price history range", "instrument", instrumentID, "rows", len(prices))
	return prices, nil
}

// History implements HistoryFetcher.
func (c *Client) History(ctx context.Context, instrumentID string, days int) ([]models.DailyPrice, error) {
	if instrumentID == "" {
		return nil, models.ValidationError{Field: "InstrumentID", Message: "instrument ID is required"}
	}
	if days <= 0 {
		return nil, models.ValidationError{Field: "Days", Message: "days must be greater than 0"}
	}

	params := url.Values{}
	params.Set("vs_currency", c.currency)
	params.Set("days", strconv.Itoa(days))
	params.Set("interval", "daily")

	requestURL := fmt.Sprintf(c.baseURL+marketChartEndpoint, url.PathEscape(instrumentID)) + "?" + params.Encode()

	body, err := c.getWithRetry(ctx, requestURL, "history")
	if err != nil {
		return nil, err
	}

	var chart marketChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "provider", "history",
			fmt.Errorf("failed to parse market chart response: %w", err))
	}

	prices := c.normalizeChart(instrumentID, chart)
	c.logger.Debug("fetched price history", "instrument", instrumentID, "days", days, "rows", len(prices))
	return prices, nil
}

// Metadata implements MetadataFetcher.
func (c *Client) Metadata(ctx context.Context, instrumentID string) (*models.InstrumentMetadata, error) {
	if instrumentID == "" {
		return nil, models.ValidationError{Field: "InstrumentID", Message: "instrument ID is required"}
	}

	params := url.Values{}
	params.Set("localization", "false")
	params.Set("tickers", "false")
	params.Set("market_data", "true")
	params.Set("community_data", "false")
	params.Set("developer_data", "false")

	requestURL := fmt.Sprintf(c.baseURL+coinInfoEndpoint, url.PathEscape(instrumentID)) + "?" + params.Encode()

	body, err := c.getWithRetry(ctx, requestURL, "metadata")
	if err != nil {
		return nil, err
	}

	var info coinInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "provider", "metadata",
			fmt.Errorf("failed to parse coin info response: %w", err))
	}

	return &models.InstrumentMetadata{
		InstrumentID:      info.ID,
		Symbol:            info.Symbol,
		Name:              info.Name,
		Description:       info.Description.En,
		MarketCapRank:     info.MarketCapRank,
		CirculatingSupply: info.MarketData.CirculatingSupply,
		TotalSupply:       info.MarketData.TotalSupply,
		MaxSupply:         info.MarketData.MaxSupply,
		GenesisDate:       info.GenesisDate,
		UpdatedAt:         time.Now().UTC(),
	}, nil
}

// Stats implements StatsReporter.
func (c *Client) Stats() metrics.RequestStats {
	return c.counters.Snapshot()
}

// getWithRetry issues a GET through the retry loop. Transient transport and
// server failures are retried with backoff; a rate limited response sets the
// shared cooldown and is reported to the caller immediately, who decides
// whether to re-issue once the cooldown has passed.
func (c *Client) getWithRetry(ctx context.Context, requestURL, operation string) ([]byte, error) {
	var body []byte

	err := apperrors.Retry(ctx, c.logger, c.retry, "provider", operation, func() error {
		var err error
		body, err = c.get(ctx, requestURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// get issues a single paced GET request and classifies failures.
func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	if err := c.acquireSlot(ctx); err != nil {
		return nil, apperrors.New(apperrors.KindTransport, "provider", "acquire_slot", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.KindInternal, "provider", "build_request", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	c.counters.RecordRequest(time.Now())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.counters.RecordFailure()
		return nil, apperrors.New(apperrors.KindTransport, "provider", "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.counters.RecordFailure()
		c.counters.RecordRateLimit()
		c.startCooldown()
		return nil, apperrors.New(apperrors.KindRateLimited, "provider", "request",
			fmt.Errorf("rate limited by upstream, cooling down for %s", c.cooldownPause))
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.counters.RecordFailure()
		return nil, apperrors.New(apperrors.KindTransport, "provider", "read_body", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.counters.RecordFailure()
		return nil, apperrors.New(apperrors.KindNotFound, "provider", "request",
			fmt.Errorf("resource not found: %s", requestURL))
	case resp.StatusCode >= 500:
		c.counters.RecordFailure()
		return nil, apperrors.New(apperrors.KindServer, "provider", "request",
			fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(responseBody, 200)))
	case resp.StatusCode >= 400:
		c.counters.RecordFailure()
		return nil, apperrors.New(apperrors.KindBadRequest, "provider", "request",
			fmt.Errorf("client error %d: %s", resp.StatusCode, truncate(responseBody, 200)))
	}

	c.counters.RecordSuccess()
	return responseBody, nil
}

// acquireSlot waits out any active rate limit cooldown and then the pacer.
func (c *Client) acquireSlot(ctx context.Context) error {
	if wait := c.cooldownRemaining(); wait > 0 {
		c.logger.Warn("waiting out rate limit cooldown", "wait", wait)
		start := time.Now()
		select {
		case <-time.After(wait):
			c.counters.RecordCooldown(time.Since(start))
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.pacer.Wait(ctx)
}

func (c *Client) startCooldown() {
	c.cooldownMu.Lock()
	defer c.cooldownMu.Unlock()

	until := time.Now().Add(c.cooldownPause)
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
}

func (c *Client) cooldownRemaining() time.Duration {
	c.cooldownMu.Lock()
	defer c.cooldownMu.Unlock()

	remaining := time.Until(c.cooldownUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// normalizeChart converts the raw chart arrays into one row per UTC day.
// Timestamps are in milliseconds; the upstream reports a single price sample
// per day at daily granularity, so open, high, low and close all carry that
// sample. When a day appears more than once the last sample wins.
func (c *Client) normalizeChart(instrumentID string, chart marketChartResponse) []models.DailyPrice {
	byDay := make(map[time.Time]*models.DailyPrice)

	for _, point := range chart.Prices {
		if len(point) < 2 {
			continue
		}
		day := dayOf(point[0])
		price := point[1]
		if price <= 0 {
			continue
		}

		byDay[day] = &models.DailyPrice{
			InstrumentID: instrumentID,
			Date:         day,
			Open:         price,
			High:         price,
			Low:          price,
			Close:        price,
		}
	}

	for _, point := range chart.MarketCaps {
		if len(point) < 2 {
			continue
		}
		if row, ok := byDay[dayOf(point[0])]; ok {
			mcap := point[1]
			row.MarketCap = &mcap
		}
	}

	for _, point := range chart.TotalVolumes {
		if len(point) < 2 {
			continue
		}
		if row, ok := byDay[dayOf(point[0])]; ok {
			vol := point[1]
			row.Volume = &vol
		}
	}

	rows := make([]models.DailyPrice, 0, len(byDay))
	for _, row := range byDay {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Date.Before(rows[j].Date)
	})

	// Derive day-over-day changes from adjacent rows.
	for i := 1; i < len(rows); i++ {
		prev := rows[i-1]
		rows[i].PriceChange24h = models.PercentChange(prev.Close, rows[i].Close)
		if prev.Volume != nil && rows[i].Volume != nil {
			rows[i].VolumeChange24h = models.PercentChange(*prev.Volume, *rows[i].Volume)
		}
	}

	return rows
}

func dayOf(unixMillis float64) time.Time {
	return time.UnixMilli(int64(unixMillis)).UTC().Truncate(24 * time.Hour)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// API response structures

type marketChartResponse struct {
	Prices       [][]float64 `json:"prices"`
	MarketCaps   [][]float64 `json:"market_caps"`
	TotalVolumes [][]float64 `json:"total_volumes"`
}

type coinInfoResponse struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	GenesisDate   string `json:"genesis_date"`
	MarketCapRank int    `json:"market_cap_rank"`
	Description   struct {
		En string `json:"en"`
	} `json:"description"`
	MarketData struct {
		CirculatingSupply *float64 `json:"circulating_supply"`
		TotalSupply       *float64 `json:"total_supply"`
		MaxSupply         *float64 `json:"max_supply"`
	} `json:"market_data"`
}
