package engine

import (
	"context"
	"fmt"
	"math"
)

// updateTrailing arms the trailing stop once price clears the arm level and
// then ratchets the stop up behind the peak. The stop never moves down here.
func (e *Engine) updateTrailing(ctx context.Context, snap Snapshot) {
	if !e.pos.InPosition() || !snap.ATROK {
		return
	}
	b := e.cfg.Bot
	floor := CalcNetFloor(e.pos.TotalCost, e.pos.TotalFees, e.pos.TotalQty, b.MinNetProfitPct, b.CommissionRate)

	if !e.pos.Armed() {
		arm := CalcArmPrice(e.pos.TakeProfit, floor, snap.ATR, b.ArmATRMult)
		if snap.Price < arm {
			return
		}
		e.pos.TrailPeak = snap.Price
		e.logEntry().WithFields(map[string]interface{}{
			"price": snap.Price,
			"arm":   arm,
			"floor": floor,
		}).Info("Трейлинг активирован.")
		e.notify(ctx, fmt.Sprintf("🎯 Трейлинг активирован для %s @ %.6f (floor=%.6f)", b.Symbol, snap.Price, floor))
	}

	e.pos.TrailPeak = math.Max(e.pos.TrailPeak, snap.Price)
	stop := CalcTrailStop(e.pos.StopPrice, e.pos.TrailPeak, e.pos.TakeProfit, snap.ATR, b.TrailATRMult, b.TrailShare, floor)
	if stop > e.pos.StopPrice {
		e.logEntry().WithFields(map[string]interface{}{
			"peak": e.pos.TrailPeak,
			"old":  e.pos.StopPrice,
			"new":  stop,
		}).Debug("Стоп подтянут.")
		e.pos.StopPrice = stop
	}
}
