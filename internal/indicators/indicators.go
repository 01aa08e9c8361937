// Package indicators computes technical indicators from daily price history.
// All functions are pure: they take price rows in ascending date order and
// return derived values without touching storage or the network.
package indicators

import (
	"math"
	"sort"
	"time"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

const (
	// MinHistory is the smallest number of rows the engine will compute
	// indicators for. Shorter histories produce no output rather than rows
	// of mostly nil fields.
	MinHistory = 20

	rsiPeriod        = 14
	atrPeriod        = 14
	bollingerPeriod  = 20
	bollingerWidth   = 2.0
	levelPeriod      = 20
	volatilityPeriod = 30
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9

	// Annualization factor for daily volatility, trading days per year.
	annualizationDays = 252
)

// Engine computes indicator rows for one instrument's history.
type Engine struct{}

// NewEngine creates an indicator engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Compute derives one IndicatorPoint per input row. Input rows are sorted by
// date before computation; fewer than MinHistory rows yield no output.
// Fields whose rolling window has not filled yet are left nil.
func (e *Engine) Compute(prices []models.DailyPrice) []models.IndicatorPoint {
	if len(prices) < MinHistory {
		return nil
	}

	rows := make([]models.DailyPrice, len(prices))
	copy(rows, prices)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Date.Before(rows[j].Date)
	})

	closes := make([]float64, len(rows))
	for i, row := range rows {
		closes[i] = row.Close
	}

	ma7 := RollingMean(closes, 7)
	ma25 := RollingMean(closes, 25)
	ma99 := RollingMean(closes, 99)
	rsi := RSI(closes, rsiPeriod)
	upper, middle, lower := Bollinger(closes, bollingerPeriod, bollingerWidth)
	macdLine, macdSignal, macdHist := MACD(closes, macdFastPeriod, macdSlowPeriod, macdSignalPeriod)
	vol := Volatility(closes, volatilityPeriod)
	atr := ATR(rows, atrPeriod)
	support, resistance := Levels(rows, levelPeriod)

	points := make([]models.IndicatorPoint, len(rows))
	for i, row := range rows {
		points[i] = models.IndicatorPoint{
			InstrumentID:    row.InstrumentID,
			Date:            row.Date,
			RSI14:           rsi[i],
			MA7:             ma7[i],
			MA25:            ma25[i],
			MA99:            ma99[i],
			BollingerUpper:  upper[i],
			BollingerMiddle: middle[i],
			BollingerLower:  lower[i],
			ATR14:           atr[i],
			MACDLine:        macdLine[i],
			MACDSignal:      macdSignal[i],
			MACDHistogram:   macdHist[i],
			Volatility30d:   vol[i],
			SupportLevel:    support[i],
			ResistanceLevel: resistance[i],
			Trend:           Classify(row.Close, ma7[i], ma25[i]),
		}
	}

	return points
}

// RollingMean returns the simple moving average over the trailing window.
// Positions before the window fills are nil.
func RollingMean(values []float64, window int) []*float64 {
	out := make([]*float64, len(values))
	if window <= 0 || len(values) < window {
		return out
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			mean := sum / float64(window)
			out[i] = &mean
		}
	}
	return out
}

// RollingStd returns the sample standard deviation over the trailing window.
func RollingStd(values []float64, window int) []*float64 {
	out := make([]*float64, len(values))
	if window <= 1 || len(values) < window {
		return out
	}

	for i := window - 1; i < len(values); i++ {
		slice := values[i-window+1 : i+1]
		var sum float64
		for _, v := range slice {
			sum += v
		}
		mean := sum / float64(window)

		var sq float64
		for _, v := range slice {
			d := v - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(window-1))
		out[i] = &std
	}
	return out
}

// EMA returns the exponential moving average with smoothing 2/(span+1),
// seeded from the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index computed from simple rolling means
// of zero-floored gains and losses.
func RSI(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if len(closes) <= period {
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	// The first delta lands at index 1, so windows are taken over
	// gains[1:] and the result lands one position later.
	avgGain := RollingMean(gains[1:], period)
	avgLoss := RollingMean(losses[1:], period)

	for i := range avgGain {
		if avgGain[i] == nil || avgLoss[i] == nil {
			continue
		}
		var rsi float64
		if *avgLoss[i] == 0 {
			rsi = 100
		} else {
			rs := *avgGain[i] / *avgLoss[i]
			rsi = 100 - 100/(1+rs)
		}
		out[i+1] = &rsi
	}
	return out
}

// Bollinger returns the upper, middle and lower bands: a rolling mean plus
// and minus width sample standard deviations.
func Bollinger(closes []float64, period int, width float64) (upper, middle, lower []*float64) {
	middle = RollingMean(closes, period)
	std := RollingStd(closes, period)
	upper = make([]*float64, len(closes))
	lower = make([]*float64, len(closes))

	for i := range middle {
		if middle[i] == nil || std[i] == nil {
			continue
		}
		u := *middle[i] + width**std[i]
		l := *middle[i] - width**std[i]
		upper[i] = &u
		lower[i] = &l
	}
	return upper, middle, lower
}

// MACD returns the MACD line (fast EMA minus slow EMA), its signal EMA and
// the histogram. Values before the slow window fills are nil.
func MACD(closes []float64, fast, slow, signal int) (line, signalLine, histogram []*float64) {
	line = make([]*float64, len(closes))
	signalLine = make([]*float64, len(closes))
	histogram = make([]*float64, len(closes))
	if len(closes) < slow {
		return line, signalLine, histogram
	}

	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	raw := make([]float64, len(closes))
	for i := range closes {
		raw[i] = fastEMA[i] - slowEMA[i]
	}
	signalEMA := EMA(raw, signal)

	for i := slow - 1; i < len(closes); i++ {
		l := raw[i]
		s := signalEMA[i]
		h := l - s
		line[i] = &l
		signalLine[i] = &s
		histogram[i] = &h
	}
	return line, signalLine, histogram
}

// Volatility returns the annualized standard deviation of daily returns over
// the trailing window.
func Volatility(closes []float64, window int) []*float64 {
	out := make([]*float64, len(closes))
	if len(closes) <= window {
		return out
	}

	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns[i-1] = 0
		} else {
			returns[i-1] = closes[i]/closes[i-1] - 1
		}
	}

	std := RollingStd(returns, window)
	factor := math.Sqrt(annualizationDays)
	for i := range std {
		if std[i] == nil {
			continue
		}
		v := *std[i] * factor
		out[i+1] = &v
	}
	return out
}

// ATR returns the average true range over the trailing window.
func ATR(rows []models.DailyPrice, period int) []*float64 {
	out := make([]*float64, len(rows))
	if len(rows) <= period {
		return out
	}

	tr := make([]float64, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		highLow := rows[i].High - rows[i].Low
		highClose := math.Abs(rows[i].High - rows[i-1].Close)
		lowClose := math.Abs(rows[i].Low - rows[i-1].Close)
		tr[i-1] = math.Max(highLow, math.Max(highClose, lowClose))
	}

	mean := RollingMean(tr, period)
	for i := range mean {
		if mean[i] != nil {
			out[i+1] = mean[i]
		}
	}
	return out
}

// Levels returns rolling support and resistance: the minimum low and maximum
// high over the trailing window.
func Levels(rows []models.DailyPrice, window int) (support, resistance []*float64) {
	support = make([]*float64, len(rows))
	resistance = make([]*float64, len(rows))
	if len(rows) < window {
		return support, resistance
	}

	for i := window - 1; i < len(rows); i++ {
		lo := rows[i-window+1].Low
		hi := rows[i-window+1].High
		for j := i - window + 2; j <= i; j++ {
			if rows[j].Low < lo {
				lo = rows[j].Low
			}
			if rows[j].High > hi {
				hi = rows[j].High
			}
		}
		loCopy, hiCopy := lo, hi
		support[i] = &loCopy
		resistance[i] = &hiCopy
	}
	return support, resistance
}

// Classify maps the close against its short and medium moving averages onto
// a trend label. Missing averages yield neutral.
func Classify(close float64, ma7, ma25 *float64) models.Trend {
	if ma7 == nil {
		return models.TrendNeutral
	}

	switch {
	case close > *ma7 && ma25 != nil && *ma7 > *ma25:
		return models.TrendStrongBullish
	case close > *ma7:
		return models.TrendBullish
	case close < *ma7 && ma25 != nil && *ma7 < *ma25:
		return models.TrendStrongBearish
	case close < *ma7:
		return models.TrendBearish
	default:
		return models.TrendNeutral
	}
}

// LatestDate returns the newest date among the computed points, or the zero
// time when points is empty.
func LatestDate(points []models.IndicatorPoint) time.Time {
	var latest time.Time
	for _, p := range points {
		if p.Date.After(latest) {
			latest = p.Date
		}
	}
	return latest
}
