package models

import "time"

// Trend classifies the position of the close relative to its short and medium
// moving averages.
type Trend string

const (
	TrendStrongBullish Trend = "strong_bullish" // close > MA7 > MA25
	TrendBullish       Trend = "bullish"        // close > MA7
	TrendNeutral       Trend = "neutral"        // close == MA7 or insufficient data
	TrendBearish       Trend = "bearish"        // close < MA7
	TrendStrongBearish Trend = "strong_bearish" // close < MA7 < MA25
)

// IndicatorPoint holds the derived technical indicators for one instrument on
// one date. Rows are keyed (InstrumentID, Date) and recomputed whenever new
// price rows land; they are never hand-edited. A nil field means the rolling
// window behind it was not yet full on that date.
type IndicatorPoint struct {
	InstrumentID string    `json:"instrument_id" db:"instrument_id"`
	Date         time.Time `json:"date" db:"date"`

	RSI14 *float64 `json:"rsi_14" db:"rsi_14"`
	MA7   *float64 `json:"ma_7" db:"ma_7"`
	MA25  *float64 `json:"ma_25" db:"ma_25"`
	MA99  *float64 `json:"ma_99" db:"ma_99"`

	BollingerUpper  *float64 `json:"bollinger_upper" db:"bollinger_upper"`
	BollingerMiddle *float64 `json:"bollinger_middle" db:"bollinger_middle"`
	BollingerLower  *float64 `json:"bollinger_lower" db:"bollinger_lower"`

	ATR14 *float64 `json:"atr_14" db:"atr_14"`

	MACDLine      *float64 `json:"macd_line" db:"macd_line"`
	MACDSignal    *float64 `json:"macd_signal" db:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram" db:"macd_histogram"`

	Volatility30d   *float64 `json:"volatility_30d" db:"volatility_30d"`
	SupportLevel    *float64 `json:"support_level" db:"support_level"`
	ResistanceLevel *float64 `json:"resistance_level" db:"resistance_level"`

	Trend Trend `json:"trend" db:"trend"`
}

// DateString returns the row date in YYYY-MM-DD form.
func (p *IndicatorPoint) DateString() string {
	return p.Date.Format(time.DateOnly)
}
