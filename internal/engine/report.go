package engine

import (
	"context"
	"fmt"

	"smartdca/internal/regime"
)

// notify never fails the caller. Delivery errors are logged and counted.
func (e *Engine) notify(ctx context.Context, text string) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Runtime.CallTimeout)
	defer cancel()
	if err := e.notifier.Notify(callCtx, text); err != nil {
		e.logEntry().WithError(err).Warn("Не удалось отправить уведомление.")
		if e.metrics != nil {
			e.metrics.RecordNotifyFailure(e.cfg.Bot.Symbol)
		}
	}
}

// maybeReportStatus sends the periodic status message. The quote balance is
// best effort: a failed lookup is shown as n/a.
func (e *Engine) maybeReportStatus(ctx context.Context, snap Snapshot, reg regime.Result) {
	every := e.cfg.Runtime.StatusEvery
	now := e.now()
	if every <= 0 || (!e.lastStatus.IsZero() && now.Sub(e.lastStatus) < every) {
		return
	}
	e.lastStatus = now

	balance := "n/a"
	if quoteFree, err := callWithTimeout(ctx, e, "GetBalances", e.statusBalance); err == nil {
		balance = fmt.Sprintf("%.2f", quoteFree)
	} else {
		e.logEntry().WithError(err).Debug("Баланс для статуса недоступен.")
	}

	position := "нет позиции"
	if avg, ok := e.pos.AvgPrice(); ok {
		position = fmt.Sprintf("qty=%s avg=%.6f DCA=%d/%d\nTP=%.6f SL=%.6f",
			formatQty(e.pos.TotalQty), avg, e.pos.SafetyFilled, e.cfg.Bot.MaxSafetyOrders,
			e.pos.TakeProfit, e.pos.StopPrice)
	}

	e.notify(ctx, fmt.Sprintf(
		"📊 *%s* @ %.6f\nregime=%s bias=%s ADX=%.1f\n%s\n%s: %s | PnL total: %.4f",
		e.cfg.Bot.Symbol, snap.Price, reg.Regime, reg.Bias, reg.ADX,
		position, e.rules.QuoteCoin, balance, e.pos.RealizedTotal,
	))
}

func (e *Engine) statusBalance(ctx context.Context) (float64, error) {
	balances, err := e.client.GetBalances(ctx, []string{e.rules.QuoteCoin})
	if err != nil {
		return 0, err
	}
	return balances[e.rules.QuoteCoin].Available, nil
}
