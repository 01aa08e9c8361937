// Package cache implements a schedule-aware payload cache. Instead of a TTL,
// freshness is tied to fixed daily refresh hours: a cached payload stays
// valid until the next scheduled hour elapses, so downstream readers between
// slots never trigger redundant upstream calls.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FetchFunc produces a fresh payload. It is invoked only when the cached
// payload is missing, invalid, or a forced refresh is requested.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Envelope is the persisted cache file format.
type Envelope struct {
	LastUpdate  time.Time       `json:"last_update"`
	UpdateCount int64           `json:"update_count"`
	Data        json.RawMessage `json:"data"`
}

// Info describes the cache state for status displays.
type Info struct {
	Exists      bool      `json:"exists"`
	Valid       bool      `json:"valid"`
	LastUpdate  time.Time `json:"last_update,omitempty"`
	UpdateCount int64     `json:"update_count"`
	NextRefresh time.Time `json:"next_refresh"`
}

// Cache is a file-backed schedule-aware cache. Safe for concurrent use;
// concurrent refreshes are serialized by the internal lock.
type Cache struct {
	path   string
	fetch  FetchFunc
	hours  []int
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Options configures a Cache.
type Options struct {
	// Path is the cache file location.
	Path string

	// Fetch produces fresh payloads.
	Fetch FetchFunc

	// RefreshHours are the local hours at which the payload is refreshed.
	RefreshHours []int

	// Grace is how long after a scheduled hour the previous payload is still
	// served while the refresh lands.
	Grace time.Duration

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// New creates a schedule-aware cache.
func New(opts Options) (*Cache, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("cache file path is required")
	}
	if opts.Fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}
	if len(opts.RefreshHours) == 0 {
		opts.RefreshHours = []int{9, 21}
	}
	for _, h := range opts.RefreshHours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid refresh hour %d", h)
		}
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	hours := append([]int(nil), opts.RefreshHours...)
	sort.Ints(hours)

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{
		path:   opts.Path,
		fetch:  opts.Fetch,
		hours:  hours,
		grace:  opts.Grace,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// Get returns the cached payload, refreshing it first when it is missing,
// invalid, or force is set. When a refresh fails and a previous payload
// exists, the stale payload is returned instead of the error.
func (c *Cache) Get(ctx context.Context, force bool) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	envelope, err := c.read()
	if err != nil {
		c.logger.Warn("failed to read cache file, treating as missing", "error", err)
		envelope = nil
	}

	now := c.now()
	if !force && envelope != nil && ValidAt(envelope.LastUpdate, now, c.hours, c.grace) {
		return envelope.Data, nil
	}

	payload, fetchErr := c.fetch(ctx)
	if fetchErr != nil {
		if envelope != nil && len(envelope.Data) > 0 {
			c.logger.Warn("refresh failed, serving stale payload",
				"error", fetchErr,
				"last_update", envelope.LastUpdate)
			return envelope.Data, nil
		}
		return nil, fmt.Errorf("refresh failed with no cached payload: %w", fetchErr)
	}

	var count int64
	if envelope != nil {
		count = envelope.UpdateCount
	}
	fresh := &Envelope{
		LastUpdate:  now,
		UpdateCount: count + 1,
		Data:        payload,
	}

	if err := c.write(fresh); err != nil {
		// The fetched payload is still good; persisting it is best effort.
		c.logger.Error("failed to persist cache payload", "error", err)
	}

	return payload, nil
}

// Info returns the cache state without triggering a refresh.
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	info := Info{NextRefresh: NextSlot(now, c.hours)}

	envelope, err := c.read()
	if err != nil || envelope == nil {
		return info
	}

	info.Exists = true
	info.Valid = ValidAt(envelope.LastUpdate, now, c.hours, c.grace)
	info.LastUpdate = envelope.LastUpdate
	info.UpdateCount = envelope.UpdateCount
	return info
}

func (c *Cache) read() (*Envelope, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse cache file %s: %w", c.path, err)
	}
	return &envelope, nil
}

func (c *Cache) write(envelope *Envelope) error {
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

// ValidAt reports whether a payload written at lastUpdate is still fresh at
// now, given the scheduled refresh hours and grace window. It is a pure
// function of its arguments.
//
// A slot is enforced once its grace window has passed; until then the
// previous slot's payload is still served while the refresh lands. Before
// the first enforced slot of the day, only a write from yesterday at or
// after the final scheduled hour counts.
func ValidAt(lastUpdate, now time.Time, hours []int, grace time.Duration) bool {
	if lastUpdate.IsZero() || len(hours) == 0 {
		return false
	}

	sorted := append([]int(nil), hours...)
	sort.Ints(sorted)

	var enforced time.Time
	haveEnforced := false
	for _, h := range sorted {
		slot := slotTime(now, h)
		if !now.Before(slot.Add(grace)) {
			enforced = slot
			haveEnforced = true
		}
	}

	if haveEnforced {
		return sameDay(lastUpdate, now) && !lastUpdate.Before(enforced)
	}

	// The first slot may be inside its grace window; a write at or after it
	// already counts.
	first := slotTime(now, sorted[0])
	if !now.Before(first) && sameDay(lastUpdate, now) && !lastUpdate.Before(first) {
		return true
	}

	yesterday := now.AddDate(0, 0, -1)
	return sameDay(lastUpdate, yesterday) && lastUpdate.Hour() >= sorted[len(sorted)-1]
}

// NextSlot returns the next scheduled refresh time after now.
func NextSlot(now time.Time, hours []int) time.Time {
	sorted := append([]int(nil), hours...)
	sort.Ints(sorted)

	for _, h := range sorted {
		slot := slotTime(now, h)
		if now.Before(slot) {
			return slot
		}
	}
	return slotTime(now.AddDate(0, 0, 1), sorted[0])
}

func slotTime(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
