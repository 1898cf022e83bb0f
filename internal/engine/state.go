package engine

import (
	"time"

	"smartdca/internal/models"
)

// Lot is one buy fill. Lots are never modified after they are appended.
type Lot struct {
	Kind     models.OrderKind
	Qty      float64
	Price    float64
	Cost     float64
	Fee      float64
	OrderID  string
	FilledAt time.Time
}

// Position is the per-symbol strategy state. It is owned by the tick loop
// and only touched from there.
type Position struct {
	Lots         []Lot
	SafetyFilled int
	NextDCAPrice float64
	DCAStep      float64

	TotalQty  float64
	TotalCost float64
	TotalFees float64

	TakeProfit float64
	TrailPeak  float64
	StopPrice  float64

	RealizedTotal float64
	CooldownUntil time.Time
}

func (p *Position) InPosition() bool {
	return len(p.Lots) > 0
}

// AvgPrice is undefined (ok=false) while the position is flat.
func (p *Position) AvgPrice() (float64, bool) {
	if !p.InPosition() || p.TotalQty <= 0 {
		return 0, false
	}
	return CalcAvgPrice(p.TotalCost, p.TotalQty), true
}

// Armed reports whether the trailing stop has started following the peak.
func (p *Position) Armed() bool {
	return p.TrailPeak > 0
}

func (p *Position) InCooldown(now time.Time) bool {
	return now.Before(p.CooldownUntil)
}

// AddLot appends a fill and recomputes the aggregates from the lots.
func (p *Position) AddLot(lot Lot) {
	p.Lots = append(p.Lots, lot)
	if lot.Kind == models.OrderKindSafety {
		p.SafetyFilled++
	}

	p.TotalQty, p.TotalCost, p.TotalFees = 0, 0, 0
	for _, l := range p.Lots {
		p.TotalQty += l.Qty
		p.TotalCost += l.Cost
		p.TotalFees += l.Fee
	}
}

// Close realizes pnl, clears the position and starts the cooldown.
func (p *Position) Close(pnl float64, cooldownUntil time.Time) {
	realized := p.RealizedTotal + pnl
	*p = Position{
		RealizedTotal: realized,
		CooldownUntil: cooldownUntil,
	}
}
