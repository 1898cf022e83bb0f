package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"smartdca/internal/exchange"
	"smartdca/internal/indicator"
	"smartdca/internal/models"
	"smartdca/internal/monitoring"
	"smartdca/internal/regime"
)

const (
	outcomeOK          = "ok"
	outcomeUnavailable = "api_unavailable"
	outcomeError       = "error"
	outcomePanic       = "panic"
	outcomeCancelled   = "cancelled"
)

// Snapshot is the indicator state of one tick. The OK flags are false when
// there was not enough history for the value.
type Snapshot struct {
	Price float64

	ATR   float64
	ATROK bool

	BBMid  float64
	BBLow  float64
	BBUp   float64
	BandOK bool

	EMAEntry   float64
	EMAEntryOK bool

	EMAFast float64
	EMASlow float64
}

// Tick runs one evaluation. Errors and panics are logged, reported and
// counted; they never escape.
func (e *Engine) Tick(ctx context.Context) {
	symbol := e.cfg.Bot.Symbol
	started := e.now()
	outcome := outcomeOK

	defer func() {
		if r := recover(); r != nil {
			outcome = outcomePanic
			err := fmt.Errorf("panic: %v", r)
			e.logEntry().WithError(err).WithField("stack", string(debug.Stack())).Error("Паника в цикле бота.")
			e.failTick(err)
			e.notify(ctx, fmt.Sprintf("❗ Ошибка бота: %v", err))
		}
		if e.metrics != nil {
			e.metrics.RecordTick(symbol, outcome, e.now().Sub(started).Seconds())
			e.metrics.UpdatePosition(symbol, e.positionSnapshot())
		}
	}()

	err := e.tick(ctx)
	switch {
	case err == nil:
		if e.health != nil {
			e.health.TickOK(symbol)
		}
	case ctx.Err() != nil:
		outcome = outcomeCancelled
		e.logEntry().WithError(err).Debug("Тик прерван остановкой.")
	case errors.Is(err, exchange.ErrAPIUnavailable):
		outcome = outcomeUnavailable
		e.logEntry().WithError(err).Warn("API биржи недоступно, тик пропущен.")
		e.failTick(err)
		e.notify(ctx, fmt.Sprintf("❗ API биржи недоступно: %v", err))
	default:
		outcome = outcomeError
		e.logEntry().WithError(err).Error("Ошибка в цикле бота.")
		e.failTick(err)
		e.notify(ctx, fmt.Sprintf("❗ Ошибка бота: %v", err))
	}
}

func (e *Engine) failTick(err error) {
	if e.health != nil {
		e.health.TickFailed(e.cfg.Bot.Symbol, err)
	}
}

func (e *Engine) tick(ctx context.Context) error {
	b := e.cfg.Bot

	price, err := withRetry(ctx, e, "GetPrice", func(ctx context.Context) (float64, error) {
		return e.client.GetPrice(ctx, b.Symbol)
	})
	if err != nil {
		return err
	}
	if price <= 0 {
		return exchange.Unavailable("GetPrice", fmt.Errorf("некорректная цена %v", price))
	}

	htf, err := withRetry(ctx, e, "GetCandles", func(ctx context.Context) ([]models.Candle, error) {
		return e.client.GetCandles(ctx, b.Symbol, b.HTF, b.HTFLimit)
	})
	if err != nil {
		return err
	}
	reg := regime.Classify(htf, regime.Params{
		EMAFast:   b.EMAFast,
		EMASlow:   b.EMASlow,
		ADXPeriod: b.ADXPeriod,
		ADXTrend:  b.ADXTrend,
	})

	ltf, err := withRetry(ctx, e, "GetCandles", func(ctx context.Context) ([]models.Candle, error) {
		return e.client.GetCandles(ctx, b.Symbol, b.LTF, b.LTFLimit)
	})
	if err != nil {
		return err
	}
	snap := e.snapshot(price, ltf, reg)

	if e.metrics != nil {
		e.metrics.UpdateMarket(b.Symbol, price, reg.Regime.Code())
	}
	e.logEntry().WithFields(map[string]interface{}{
		"price":  price,
		"regime": reg.Regime,
		"bias":   reg.Bias,
		"adx":    reg.ADX,
		"atr":    snap.ATR,
		"bb_low": snap.BBLow,
	}).Debug("Тик.")

	e.maybeReportStatus(ctx, snap, reg)

	if !e.pos.InPosition() {
		if e.pos.InCooldown(e.now()) {
			return nil
		}
		return e.maybeEnter(ctx, snap, reg)
	}

	// A failed DCA must not skip the stop and flip checks.
	dcaErr := e.maybeDCA(ctx, snap, reg)
	e.updateTrailing(ctx, snap)

	var exitErr error
	switch {
	case !e.pos.InPosition():
	case price <= e.pos.StopPrice:
		reason := "SL"
		if e.pos.Armed() {
			reason = "TRAIL"
		}
		exitErr = e.sellAll(ctx, reason, price)
	case reg.Bias != regime.Long:
		exitErr = e.sellAll(ctx, "REGIME FLIP", price)
	}
	return errors.Join(dcaErr, exitErr)
}

func (e *Engine) snapshot(price float64, ltf []models.Candle, reg regime.Result) Snapshot {
	b := e.cfg.Bot
	snap := Snapshot{
		Price:   price,
		EMAFast: reg.EMAFast,
		EMASlow: reg.EMASlow,
	}
	if atr, err := indicator.ATR(ltf, b.ATRPeriod); err == nil {
		snap.ATR, snap.ATROK = atr, true
	}
	if bands, err := indicator.Bollinger(ltf, b.BBPeriod, b.BBMult); err == nil {
		snap.BBMid, snap.BBLow, snap.BBUp, snap.BandOK = bands.Mid, bands.Lower, bands.Upper, true
	}
	if ema, err := indicator.EMA(indicator.Closes(ltf), b.EMAEntry); err == nil {
		snap.EMAEntry, snap.EMAEntryOK = ema, true
	}
	return snap
}

func (e *Engine) positionSnapshot() monitoring.PositionSnapshot {
	avg, _ := e.pos.AvgPrice()
	return monitoring.PositionSnapshot{
		Qty:            e.pos.TotalQty,
		AvgPrice:       avg,
		StopPrice:      e.pos.StopPrice,
		TakeProfit:     e.pos.TakeProfit,
		RealizedProfit: e.pos.RealizedTotal,
		SafetyFilled:   e.pos.SafetyFilled,
	}
}
