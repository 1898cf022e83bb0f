package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// stepEpsilon absorbs float noise such as 0.30699999999999994 when counting
// whole steps.
var stepEpsilon = decimal.New(1, -9)

func CalcAvgPrice(totalCost, totalQty float64) float64 {
	if totalQty == 0 {
		return 0
	}
	return totalCost / totalQty
}

func RoundDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	s := decimal.NewFromFloat(step)
	steps := decimal.NewFromFloat(value).Div(s).Add(stepEpsilon).Floor()
	return steps.Mul(s).InexactFloat64()
}

func RoundUp(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	s := decimal.NewFromFloat(step)
	steps := decimal.NewFromFloat(value).Div(s).Sub(stepEpsilon).Ceil()
	return steps.Mul(s).InexactFloat64()
}

// CalcStep is the DCA spacing: an ATR multiple, never tighter than
// minStepPct of price.
func CalcStep(atr, price, atrMult, minStepPct float64) float64 {
	return math.Max(atr*atrMult, price*minStepPct/100)
}

func CalcTPPrice(avgPrice, atr, atrMult, minTPPct float64) float64 {
	return avgPrice + math.Max(atr*atrMult, avgPrice*minTPPct/100)
}

func CalcStopPrice(avgPrice, atr, atrMult float64) float64 {
	return avgPrice - atr*atrMult
}

// CalcNetFloor is the exit price that leaves minNetPct over cost after entry
// fees and the exit commission.
func CalcNetFloor(totalCost, totalFees, totalQty, minNetPct, commission float64) float64 {
	if totalQty <= 0 {
		return 0
	}
	return (totalCost*(1+minNetPct/100) + totalFees) / (totalQty * (1 - commission))
}

// CalcArmPrice is the level price must reach before the trailing stop
// starts following the peak.
func CalcArmPrice(tpPrice, netFloor, atr, armMult float64) float64 {
	return math.Max(tpPrice, netFloor) + atr*armMult
}

// CalcTrailStop never returns less than prevStop.
func CalcTrailStop(prevStop, peak, tpPrice, atr, trailMult, trailShare, netFloor float64) float64 {
	distance := math.Max(atr*trailMult, (peak-tpPrice)*trailShare)
	return math.Max(prevStop, math.Max(peak-distance, netFloor))
}

func CalcRealizedPnL(proceeds, totalCost, totalFees, commission float64) float64 {
	return proceeds - totalCost - totalFees - proceeds*commission
}
