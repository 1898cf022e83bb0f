// Package regime labels the higher-timeframe market as trend, range or flat
// and derives the directional bias from an EMA pair.
package regime

import (
	"smartdca/internal/indicator"
	"smartdca/internal/models"
)

type Regime string

const (
	Trend Regime = "trend"
	Range Regime = "range"
	Flat  Regime = "flat"
)

type Bias string

const (
	Long  Bias = "long"
	Short Bias = "short"
)

type Params struct {
	EMAFast   int
	EMASlow   int
	ADXPeriod int
	ADXTrend  float64
}

type Result struct {
	Regime  Regime
	Bias    Bias
	ADX     float64
	EMAFast float64
	EMASlow float64
}

// Code is the numeric form used for the regime gauge.
func (r Regime) Code() float64 {
	switch r {
	case Trend:
		return 2
	case Range:
		return 1
	}
	return 0
}

// Classify is recomputed from scratch on every call. Without enough history
// for both EMAs it returns flat/long with zero ADX.
func Classify(candles []models.Candle, p Params) Result {
	closes := indicator.Closes(candles)

	fast, errFast := indicator.EMA(closes, p.EMAFast)
	slow, errSlow := indicator.EMA(closes, p.EMASlow)
	if errFast != nil || errSlow != nil {
		return Result{Regime: Flat, Bias: Long}
	}

	adx, err := indicator.ADX(candles, p.ADXPeriod)
	if err != nil {
		adx = 0
	}

	res := Result{Bias: Short, ADX: adx, EMAFast: fast, EMASlow: slow}
	if fast > slow {
		res.Bias = Long
	}
	res.Regime = Range
	if adx >= p.ADXTrend {
		res.Regime = Trend
	}
	return res
}
