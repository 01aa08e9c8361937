// Package metrics tracks request counters for the upstream API client and
// collection runs. Counters are lock-free so the hot request path pays only
// an atomic add.
package metrics

import (
	"sync/atomic"
	"time"
)

// RequestStats is a snapshot of the client's request counters.
type RequestStats struct {
	Total          int64     `json:"total_requests"`
	Succeeded      int64     `json:"succeeded"`
	Failed         int64     `json:"failed"`
	RateLimitHits  int64     `json:"rate_limit_hits"`
	LastRequestAt  time.Time `json:"last_request_at,omitempty"`
	SuccessRate    float64   `json:"success_rate"`
	CooldownWaits  int64     `json:"cooldown_waits"`
	CooldownWaited time.Duration `json:"cooldown_waited"`
}

// RequestCounter accumulates request outcomes. The zero value is ready to use.
type RequestCounter struct {
	total         atomic.Int64
	succeeded     atomic.Int64
	failed        atomic.Int64
	rateLimitHits atomic.Int64
	cooldownWaits atomic.Int64
	cooldownNanos atomic.Int64
	lastRequestNs atomic.Int64
}

// RecordRequest counts an issued request, before its outcome is known.
func (c *RequestCounter) RecordRequest(now time.Time) {
	c.total.Add(1)
	c.lastRequestNs.Store(now.UnixNano())
}

// RecordSuccess counts a completed request.
func (c *RequestCounter) RecordSuccess() {
	c.succeeded.Add(1)
}

// RecordFailure counts a failed request.
func (c *RequestCounter) RecordFailure() {
	c.failed.Add(1)
}

// RecordRateLimit counts an upstream rate limit response.
func (c *RequestCounter) RecordRateLimit() {
	c.rateLimitHits.Add(1)
}

// RecordCooldown counts time spent waiting out a rate limit cooldown.
func (c *RequestCounter) RecordCooldown(waited time.Duration) {
	c.cooldownWaits.Add(1)
	c.cooldownNanos.Add(int64(waited))
}

// Snapshot returns the current counter values. The snapshot is not atomic
// across fields; individual fields are.
func (c *RequestCounter) Snapshot() RequestStats {
	total := c.total.Load()
	succeeded := c.succeeded.Load()

	var successRate float64
	if total > 0 {
		successRate = float64(succeeded) / float64(total) * 100
	}

	var lastRequest time.Time
	if ns := c.lastRequestNs.Load(); ns > 0 {
		lastRequest = time.Unix(0, ns).UTC()
	}

	return RequestStats{
		Total:          total,
		Succeeded:      succeeded,
		Failed:         c.failed.Load(),
		RateLimitHits:  c.rateLimitHits.Load(),
		LastRequestAt:  lastRequest,
		SuccessRate:    successRate,
		CooldownWaits:  c.cooldownWaits.Load(),
		CooldownWaited: time.Duration(c.cooldownNanos.Load()),
	}
}

// Reset zeroes all counters.
func (c *RequestCounter) Reset() {
	c.total.Store(0)
	c.succeeded.Store(0)
	c.failed.Store(0)
	c.rateLimitHits.Store(0)
	c.cooldownWaits.Store(0)
	c.cooldownNanos.Store(0)
	c.lastRequestNs.Store(0)
}
