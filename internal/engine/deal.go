package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"smartdca/internal/exchange"
	"smartdca/internal/models"
	"smartdca/internal/regime"
)

func (e *Engine) maybeEnter(ctx context.Context, snap Snapshot, reg regime.Result) error {
	b := e.cfg.Bot
	if reg.Bias != regime.Long || reg.ADX < b.ADXMinTrade || !snap.ATROK {
		return nil
	}

	belowBand := snap.BandOK && snap.Price <= snap.BBLow
	signal := belowBand
	if reg.Regime == regime.Trend {
		signal = belowBand || (snap.EMAEntryOK && snap.Price <= snap.EMAEntry)
	}
	if !signal {
		return nil
	}

	quoteFree, err := e.quoteAvailable(ctx)
	if err != nil {
		return err
	}
	if quoteFree < b.BaseOrderQuote*0.5 {
		e.logEntry().WithField("quote_free", quoteFree).Debug("Недостаточно средств для входа.")
		return nil
	}

	limit := math.Min(e.riskRoom(quoteFree, snap.Price), quoteFree)
	qty := e.buyQty(e.entryQuote(), limit, snap.Price)
	if qty <= 0 {
		e.logEntry().WithFields(map[string]interface{}{
			"quote_free":   quoteFree,
			"limit":        limit,
			"min_notional": e.rules.MinNotional,
		}).Info("Объём входа меньше минимального, вход пропущен.")
		return nil
	}

	fill, ok, err := e.placeMarket(ctx, models.OrderKindEntry, models.OrderSideBuy, qty)
	if err != nil || !ok {
		return err
	}
	e.applyBuy(fill, models.OrderKindEntry, snap, reg)
	e.pos.NextDCAPrice = fill.Price() - e.pos.DCAStep

	avg, _ := e.pos.AvgPrice()
	e.notify(ctx, fmt.Sprintf(
		"🟢 Вход LONG %s %s @ %.6f\nATR=%.6f step=%.6f\navg=%.6f TP=%.6f SL=%.6f",
		formatQty(fill.Qty), b.Symbol, fill.Price(),
		snap.ATR, e.pos.DCAStep, avg, e.pos.TakeProfit, e.pos.StopPrice,
	))
	return nil
}

func (e *Engine) maybeDCA(ctx context.Context, snap Snapshot, reg regime.Result) error {
	b := e.cfg.Bot
	if !snap.ATROK || e.pos.Armed() || e.pos.SafetyFilled >= b.MaxSafetyOrders {
		return nil
	}
	if snap.Price > e.pos.NextDCAPrice {
		return nil
	}

	quoteFree, err := e.quoteAvailable(ctx)
	if err != nil {
		return err
	}
	limit := math.Min(e.riskRoom(quoteFree, snap.Price), quoteFree)
	add := math.Min(e.safetyQuote(), limit)
	if add < e.rules.MinNotional {
		e.logEntry().WithFields(map[string]interface{}{
			"add":          add,
			"quote_free":   quoteFree,
			"min_notional": e.rules.MinNotional,
		}).Info("Объём усреднения меньше минимального, DCA пропущен.")
		return nil
	}
	qty := e.buyQty(add, limit, snap.Price)
	if qty <= 0 {
		return nil
	}

	prevTrigger := e.pos.NextDCAPrice
	fill, ok, err := e.placeMarket(ctx, models.OrderKindSafety, models.OrderSideBuy, qty)
	if err != nil || !ok {
		return err
	}
	e.applyBuy(fill, models.OrderKindSafety, snap, reg)
	e.pos.NextDCAPrice = math.Min(prevTrigger, fill.Price()) - e.pos.DCAStep

	avg, _ := e.pos.AvgPrice()
	e.notify(ctx, fmt.Sprintf(
		"🟢 DCA %d/%d @ %.6f qty=%s\navg=%.6f next=%.6f\nTP=%.6f SL=%.6f",
		e.pos.SafetyFilled, b.MaxSafetyOrders, fill.Price(), formatQty(fill.Qty),
		avg, e.pos.NextDCAPrice, e.pos.TakeProfit, e.pos.StopPrice,
	))
	return nil
}

// applyBuy records a buy fill and recomputes take-profit and stop. The DCA
// step is fixed by the entry fill and kept for the life of the position.
func (e *Engine) applyBuy(fill models.Fill, kind models.OrderKind, snap Snapshot, reg regime.Result) {
	b := e.cfg.Bot
	e.pos.AddLot(Lot{
		Kind:     kind,
		Qty:      fill.Qty,
		Price:    fill.Price(),
		Cost:     fill.QuoteQty,
		Fee:      fill.QuoteQty * b.CommissionRate,
		OrderID:  fill.OrderID,
		FilledAt: fill.Timestamp,
	})

	avg, _ := e.pos.AvgPrice()
	if kind == models.OrderKindEntry {
		e.pos.DCAStep = CalcStep(snap.ATR, snap.Price, e.stepMult(reg), b.MinStepPct)
	}
	e.pos.TakeProfit = CalcTPPrice(avg, snap.ATR, e.tpMult(reg), b.MinTPPct)
	e.pos.StopPrice = CalcStopPrice(avg, snap.ATR, b.StopATRMult)

	e.logEntry().WithFields(map[string]interface{}{
		"kind":          kind,
		"qty":           fill.Qty,
		"price":         fill.Price(),
		"avg":           avg,
		"total_qty":     e.pos.TotalQty,
		"safety_filled": e.pos.SafetyFilled,
		"tp":            e.pos.TakeProfit,
		"stop":          e.pos.StopPrice,
	}).Info("Покупка исполнена.")
}

// sellAll closes the whole position at market. A rejected or unsellable
// exit keeps the position so it is retried on the next tick.
func (e *Engine) sellAll(ctx context.Context, reason string, price float64) error {
	qty := e.pos.TotalQty
	if free, err := e.baseAvailable(ctx); err != nil {
		e.logEntry().WithError(err).Warn("Не удалось получить баланс базовой монеты, продаём по состоянию.")
	} else if free < qty {
		qty = free
	}
	qty = RoundDown(qty, e.rules.LotSize)
	if qty <= 0 || qty < e.rules.MinQty || qty*price < e.rules.MinNotional {
		e.logEntry().WithFields(map[string]interface{}{
			"reason":       reason,
			"qty":          qty,
			"total_qty":    e.pos.TotalQty,
			"min_notional": e.rules.MinNotional,
		}).Warn("Объём продажи меньше минимального, выход пропущен.")
		e.notify(ctx, fmt.Sprintf("❗ %s: выход по %s пропущен, объём %s меньше минимального",
			reason, e.cfg.Bot.Symbol, formatQty(qty)))
		return nil
	}

	fill, ok, err := e.placeMarket(ctx, models.OrderKindExit, models.OrderSideSell, qty)
	if err != nil || !ok {
		return err
	}

	pnl := CalcRealizedPnL(fill.QuoteQty, e.pos.TotalCost, e.pos.TotalFees, e.cfg.Bot.CommissionRate)
	e.pos.Close(pnl, e.now().Add(e.cfg.Bot.Cooldown))

	e.logEntry().WithFields(map[string]interface{}{
		"reason":   reason,
		"qty":      fill.Qty,
		"price":    fill.Price(),
		"trigger":  price,
		"pnl":      pnl,
		"realized": e.pos.RealizedTotal,
	}).Info("Позиция закрыта.")
	e.notify(ctx, fmt.Sprintf(
		"🟡 %s: SELL %s %s @ %.6f\nPnL: *%.4f %s* | Total: %.4f",
		reason, formatQty(fill.Qty), e.cfg.Bot.Symbol, fill.Price(),
		pnl, e.rules.QuoteCoin, e.pos.RealizedTotal,
	))
	return nil
}

// placeMarket sends one market order. Orders are never retried: a rejection
// returns ok=false with a nil error so the tick can go on, anything else
// aborts the tick.
func (e *Engine) placeMarket(ctx context.Context, kind models.OrderKind, side models.OrderSide, qty float64) (models.Fill, bool, error) {
	symbol := e.cfg.Bot.Symbol
	order := models.MarketOrder{
		ClientID: newClientOrderID(kind),
		Symbol:   symbol,
		Side:     side,
		Kind:     kind,
		Qty:      qty,
		QtyStep:  e.rules.LotSize,
	}
	e.logEntry().WithFields(map[string]interface{}{
		"client_id": order.ClientID,
		"side":      side,
		"kind":      kind,
		"qty":       qty,
	}).Info("Попытка ордера.")

	fill, err := callWithTimeout(ctx, e, "PlaceMarketOrder", func(ctx context.Context) (models.Fill, error) {
		return e.client.PlaceMarketOrder(ctx, order)
	})
	if err == nil && (fill.Qty <= 0 || fill.QuoteQty <= 0) {
		err = fmt.Errorf("%w: пустое исполнение %s", exchange.ErrOrderRejected, order.ClientID)
	}
	if err != nil {
		if !errors.Is(err, exchange.ErrOrderRejected) {
			return models.Fill{}, false, err
		}
		e.logEntry().WithError(err).WithField("kind", kind).Warn("Ордер отклонён биржей.")
		if e.metrics != nil {
			e.metrics.RecordRejection(symbol, string(kind))
		}
		e.notify(ctx, fmt.Sprintf("❌ Ордер %s %s отклонён: %v", side, kind, err))
		return models.Fill{}, false, nil
	}

	if e.metrics != nil {
		e.metrics.RecordOrder(symbol, string(side), string(kind))
	}
	return fill, true, nil
}
