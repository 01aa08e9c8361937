package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_EmptyCounter(t *testing.T) {
	var c RequestCounter

	stats := c.Snapshot()
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.SuccessRate)
	assert.True(t, stats.LastRequestAt.IsZero())
}

func TestSnapshot_SuccessRate(t *testing.T) {
	var c RequestCounter
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		c.RecordRequest(now)
	}
	c.RecordSuccess()
	c.RecordSuccess()
	c.RecordSuccess()
	c.RecordFailure()
	c.RecordRateLimit()
	c.RecordCooldown(2 * time.Second)

	stats := c.Snapshot()
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.RateLimitHits)
	assert.InDelta(t, 75.0, stats.SuccessRate, 1e-9)
	assert.True(t, stats.LastRequestAt.Equal(now))
	assert.Equal(t, int64(1), stats.CooldownWaits)
	assert.Equal(t, 2*time.Second, stats.CooldownWaited)
}

func TestReset(t *testing.T) {
	var c RequestCounter
	c.RecordRequest(time.Now())
	c.RecordFailure()

	c.Reset()
	stats := c.Snapshot()
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Failed)
	assert.True(t, stats.LastRequestAt.IsZero())
}

func TestConcurrentRecording(t *testing.T) {
	var c RequestCounter
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRequest(time.Now())
			c.RecordSuccess()
		}()
	}
	wg.Wait()

	stats := c.Snapshot()
	assert.Equal(t, int64(50), stats.Total)
	assert.Equal(t, int64(50), stats.Succeeded)
}
