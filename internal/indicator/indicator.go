// Package indicator computes the technical levels used by the strategy.
// All functions are pure and deterministic over oldest-to-newest candles.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"smartdca/internal/models"
)

var ErrInsufficientData = errors.New("insufficient data")

type Bands struct {
	Mid   float64
	Lower float64
	Upper float64
}

func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// EMA is seeded with the first element of series, k = 2/(period+1).
func EMA(series []float64, period int) (float64, error) {
	if period <= 0 || len(series) == 0 || len(series) < period {
		return 0, fmt.Errorf("%w: ema(%d) over %d values", ErrInsufficientData, period, len(series))
	}
	k := 2.0 / float64(period+1)
	ema := series[0]
	for _, v := range series[1:] {
		ema = v*k + ema*(1-k)
	}
	return ema, nil
}

func trueRange(cur, prev models.Candle) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATR seeds with the simple mean of the first period true ranges and then
// applies Wilder smoothing.
func ATR(candles []models.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period+1 {
		return 0, fmt.Errorf("%w: atr(%d) over %d candles", ErrInsufficientData, period, len(candles))
	}
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1]))
	}

	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, nil
}

// wilderSums returns the running Wilder sums: first value is the plain sum of
// the first period elements, then s = s - s/period + v.
func wilderSums(vals []float64, period int) []float64 {
	s := 0.0
	for _, v := range vals[:period] {
		s += v
	}
	out := make([]float64, 0, len(vals)-period+1)
	out = append(out, s)
	for _, v := range vals[period:] {
		s = s - s/float64(period) + v
		out = append(out, s)
	}
	return out
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// ADX uses the classic Wilder directional movement. It needs at least
// 2*period candles (and never fewer than period+2) to produce period DX values.
func ADX(candles []models.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period+2 {
		return 0, fmt.Errorf("%w: adx(%d) over %d candles", ErrInsufficientData, period, len(candles))
	}

	n := len(candles) - 1
	plusDM := make([]float64, 0, n)
	minusDM := make([]float64, 0, n)
	trs := make([]float64, 0, n)
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM = append(plusDM, p)
		minusDM = append(minusDM, m)
		trs = append(trs, trueRange(cur, prev))
	}

	trSm := wilderSums(trs, period)
	plusSm := wilderSums(plusDM, period)
	minusSm := wilderSums(minusDM, period)

	dx := make([]float64, len(trSm))
	for i := range trSm {
		diPlus := ratio(plusSm[i], trSm[i]) * 100
		diMinus := ratio(minusSm[i], trSm[i]) * 100
		dx[i] = ratio(math.Abs(diPlus-diMinus), diPlus+diMinus) * 100
	}
	if len(dx) < period {
		return 0, fmt.Errorf("%w: adx(%d) has %d dx values", ErrInsufficientData, period, len(dx))
	}

	adx := 0.0
	for _, v := range dx[:period] {
		adx += v
	}
	adx /= float64(period)
	for _, v := range dx[period:] {
		adx = (adx*float64(period-1) + v) / float64(period)
	}
	return adx, nil
}

// Bollinger uses the population standard deviation of the trailing window.
func Bollinger(candles []models.Candle, period int, mult float64) (Bands, error) {
	if period <= 0 || len(candles) < period {
		return Bands{}, fmt.Errorf("%w: bollinger(%d) over %d candles", ErrInsufficientData, period, len(candles))
	}
	window := candles[len(candles)-period:]

	mean := 0.0
	for _, c := range window {
		mean += c.Close
	}
	mean /= float64(period)

	variance := 0.0
	for _, c := range window {
		d := c.Close - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))

	return Bands{Mid: mean, Lower: mean - mult*std, Upper: mean + mult*std}, nil
}
