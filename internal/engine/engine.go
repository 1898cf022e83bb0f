// Package engine runs the smart DCA strategy for one symbol: it reads the
// market every poll interval, classifies the regime and opens, averages,
// trails and closes a single long position with market orders.
package engine

import (
	"context"
	"fmt"
	"time"

	"smartdca/internal/config"
	"smartdca/internal/exchange"
	"smartdca/internal/logger"
	"smartdca/internal/monitoring"
	"smartdca/internal/notify"
)

type Engine struct {
	cfg      *config.Config
	client   exchange.Client
	notifier notify.Notifier
	metrics  *monitoring.Metrics
	health   *monitoring.HealthChecker
	log      *logger.Logger

	now       func() time.Time
	retryBase time.Duration

	rules      exchange.InstrumentRules
	pos        Position
	lastStatus time.Time
}

// New wires one strategy instance. metrics and health may be nil.
func New(cfg *config.Config, client exchange.Client, notifier notify.Notifier, metrics *monitoring.Metrics, health *monitoring.HealthChecker, log *logger.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		cfg:       cfg,
		client:    client,
		notifier:  notifier,
		metrics:   metrics,
		health:    health,
		log:       log,
		now:       time.Now,
		retryBase: time.Second,
	}
}

// Start loads the instrument rules and then ticks every poll interval until
// ctx is cancelled. Only a failure to load the rules is returned.
func (e *Engine) Start(ctx context.Context) error {
	symbol := e.cfg.Bot.Symbol
	rules, err := withRetry(ctx, e, "GetInstrumentRules", func(ctx context.Context) (exchange.InstrumentRules, error) {
		return e.client.GetInstrumentRules(ctx, symbol)
	})
	if err != nil {
		return fmt.Errorf("Не удалось получить ограничения торговой пары %s: %w", symbol, err)
	}
	e.rules = rules
	e.logEntry().WithFields(map[string]interface{}{
		"lot_size":     rules.LotSize,
		"min_qty":      rules.MinQty,
		"min_notional": rules.MinNotional,
		"base":         rules.BaseCoin,
		"quote":        rules.QuoteCoin,
	}).Info("Получены ограничения торговой пары.")

	e.checkAccess(ctx)
	if e.health != nil {
		e.health.Register(symbol)
	}
	e.notify(ctx, fmt.Sprintf("🚀 Smart DCA bot started for *%s* (HTF=%s, LTF=%s)", symbol, e.cfg.Bot.HTF, e.cfg.Bot.LTF))

	ticker := time.NewTicker(e.cfg.Runtime.PollInterval)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logEntry().Info("Движок остановлен.")
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// checkAccess verifies connectivity and credentials. A failure is reported
// but the loop still starts.
func (e *Engine) checkAccess(ctx context.Context) {
	_, err := callWithTimeout(ctx, e, "Ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.client.Ping(ctx)
	})
	if err == nil {
		_, err = e.quoteAvailable(ctx)
	}
	if err != nil {
		e.logEntry().WithError(err).Error("Нет доступа к API биржи.")
		e.notify(ctx, fmt.Sprintf("❌ Нет доступа к API биржи: %v", err))
		return
	}
	e.logEntry().Info("Доступ к API биржи подтверждён.")
}
