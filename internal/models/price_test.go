package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPrice() DailyPrice {
	volume := 1500.75
	return DailyPrice{
		InstrumentID: "bitcoin",
		Date:         time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Open:         42000,
		High:         43500,
		Low:          41200,
		Close:        43100,
		Volume:       &volume,
	}
}

func TestDailyPrice_Validate(t *testing.T) {
	negVolume := -1.0

	tests := []struct {
		name    string
		mutate  func(p *DailyPrice)
		wantErr string
	}{
		{"valid_row", func(p *DailyPrice) {}, ""},
		{"missing_instrument", func(p *DailyPrice) { p.InstrumentID = "" }, "instrument_id"},
		{"zero_date", func(p *DailyPrice) { p.Date = time.Time{} }, "date"},
		{"zero_close", func(p *DailyPrice) { p.Close = 0 }, "close"},
		{"negative_open", func(p *DailyPrice) { p.Open = -1 }, "open"},
		{"high_below_close", func(p *DailyPrice) { p.High = 40000 }, "high"},
		{"high_between_open_and_close", func(p *DailyPrice) { p.High = 42500 }, "high"},
		{"low_above_open", func(p *DailyPrice) { p.Low = 50000; p.High = 51000 }, "low"},
		{"low_between_open_and_close", func(p *DailyPrice) { p.Low = 42500 }, "low"},
		{"negative_volume", func(p *DailyPrice) { p.Volume = &negVolume }, "volume"},
		{"nil_volume_is_fine", func(p *DailyPrice) { p.Volume = nil }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := validPrice()
			tt.mutate(&price)

			err := price.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantErr, vErr.Field)
		})
	}
}

func TestDailyPrice_Day(t *testing.T) {
	price := validPrice()
	price.Date = time.Date(2024, 1, 15, 17, 45, 12, 0, time.UTC)

	day := price.Day()
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), day)
	assert.Equal(t, "2024-01-15", price.DateString())
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name     string
		previous float64
		current  float64
		expected *float64
	}{
		{"gain", 100, 110, ptr(10.0)},
		{"loss", 200, 150, ptr(-25.0)},
		{"flat", 42, 42, ptr(0.0)},
		{"zero_previous_is_nil", 0, 100, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentChange(tt.previous, tt.current)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.expected, *got, 1e-9)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestInstrument_Validate(t *testing.T) {
	valid := Instrument{ID: "bitcoin", Symbol: "BTC", ListedAt: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.ID = ""
	assert.Error(t, missing.Validate())

	unlisted := valid
	unlisted.ListedAt = time.Time{}
	assert.Error(t, unlisted.Validate())
}

func TestDefaultRegistry(t *testing.T) {
	registry := DefaultRegistry()
	require.NotEmpty(t, registry)

	seen := make(map[string]bool)
	for _, inst := range registry {
		assert.NoError(t, inst.Validate())
		assert.False(t, seen[inst.ID], "duplicate instrument %s", inst.ID)
		seen[inst.ID] = true
	}
	assert.True(t, seen["bitcoin"])
	assert.True(t, seen["ethereum"])
}
