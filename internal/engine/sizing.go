package engine

import (
	"math"

	"smartdca/internal/regime"
)

// riskRoom is how much more quote the position may hold before it reaches
// MaxPortfolioRiskPct of the account value.
func (e *Engine) riskRoom(quoteFree, price float64) float64 {
	account := quoteFree + e.pos.TotalQty*price
	return account*e.cfg.Bot.MaxPortfolioRiskPct/100 - e.pos.TotalCost
}

// entryQuote is the base order plus the reinvested share of realized profit.
func (e *Engine) entryQuote() float64 {
	b := e.cfg.Bot
	return b.BaseOrderQuote + b.ReinvestPct/100*math.Max(e.pos.RealizedTotal, 0)
}

// safetyQuote sizes the next averaging order from the position so far.
func (e *Engine) safetyQuote() float64 {
	b := e.cfg.Bot
	add := math.Min(e.pos.TotalCost*(b.VolMult-1), b.BaseOrderQuote*math.Pow(b.VolMult, float64(e.pos.SafetyFilled)))
	return math.Max(add, b.BaseOrderQuote*0.5)
}

// buyQty converts a quote amount into an exchange-valid quantity. limit is
// the most quote that may be spent. A zero result means the order must be
// skipped.
func (e *Engine) buyQty(amount, limit, price float64) float64 {
	if price <= 0 || limit <= 0 {
		return 0
	}
	amount = math.Min(amount, limit)
	minNotional := e.rules.MinNotional

	var qty float64
	if amount < minNotional {
		qty = RoundUp(minNotional/price, e.rules.LotSize)
		if qty*price > limit {
			return 0
		}
	} else {
		qty = RoundDown(amount/price, e.rules.LotSize)
	}

	if qty <= 0 || qty < e.rules.MinQty || qty*price < minNotional {
		return 0
	}
	return qty
}

func (e *Engine) stepMult(reg regime.Result) float64 {
	if reg.Regime == regime.Trend {
		return e.cfg.Bot.StepATRTrend
	}
	return e.cfg.Bot.StepATRRange
}

func (e *Engine) tpMult(reg regime.Result) float64 {
	if reg.Regime == regime.Trend {
		return e.cfg.Bot.TPATRTrend
	}
	return e.cfg.Bot.TPATRRange
}
