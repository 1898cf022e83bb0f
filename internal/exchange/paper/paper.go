// Package paper simulates order execution for dry runs. Market data still
// comes from the real venue, balances live in memory.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"smartdca/internal/exchange"
	"smartdca/internal/logger"
	"smartdca/internal/models"
)

type Broker struct {
	exchange.Client

	initialQuote float64
	log          *logger.Logger
	now          func() time.Time

	mu       sync.Mutex
	balances map[string]float64
	rules    map[string]exchange.InstrumentRules
}

func New(client exchange.Client, quoteBalance float64, log *logger.Logger) *Broker {
	return &Broker{
		Client:       client,
		initialQuote: quoteBalance,
		log:          log,
		now:          time.Now,
		balances:     map[string]float64{},
		rules:        map[string]exchange.InstrumentRules{},
	}
}

// GetInstrumentRules caches the venue rules and seeds the paper quote balance
// the first time a quote coin is seen.
func (b *Broker) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	rules, err := b.Client.GetInstrumentRules(ctx, symbol)
	if err != nil {
		return exchange.InstrumentRules{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules[symbol] = rules
	if _, ok := b.balances[rules.QuoteCoin]; !ok {
		b.balances[rules.QuoteCoin] = b.initialQuote
	}
	return rules, nil
}

func (b *Broker) GetBalances(ctx context.Context, coins []string) (map[string]exchange.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]exchange.Balance, len(coins))
	for _, coin := range coins {
		amount := b.balances[coin]
		out[coin] = exchange.Balance{Coin: coin, Wallet: amount, Available: amount}
	}
	return out, nil
}

func (b *Broker) PlaceMarketOrder(ctx context.Context, order models.MarketOrder) (models.Fill, error) {
	b.mu.Lock()
	rules, known := b.rules[order.Symbol]
	b.mu.Unlock()
	if !known {
		var err error
		if rules, err = b.GetInstrumentRules(ctx, order.Symbol); err != nil {
			return models.Fill{}, err
		}
	}

	price, err := b.Client.GetPrice(ctx, order.Symbol)
	if err != nil {
		return models.Fill{}, err
	}

	step := order.QtyStep
	if step <= 0 {
		step = rules.LotSize
	}
	qty, _ := strconv.ParseFloat(exchange.FormatWithStep(order.Qty, step), 64)
	if qty <= 0 || qty < rules.MinQty {
		return models.Fill{}, fmt.Errorf("Некорректный объём %v: %w", order.Qty, exchange.ErrOrderRejected)
	}

	notional := qty * price
	if notional < rules.MinNotional {
		return models.Fill{}, fmt.Errorf("Объём меньше min notional: %f < %f: %w", notional, rules.MinNotional, exchange.ErrBelowMinNotional)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch order.Side {
	case models.OrderSideBuy:
		if b.balances[rules.QuoteCoin] < notional {
			return models.Fill{}, fmt.Errorf("Недостаточно %s: %f < %f: %w", rules.QuoteCoin, b.balances[rules.QuoteCoin], notional, exchange.ErrInsufficientFunds)
		}
		b.balances[rules.QuoteCoin] -= notional
		b.balances[rules.BaseCoin] += qty
	case models.OrderSideSell:
		if b.balances[rules.BaseCoin] < qty {
			return models.Fill{}, fmt.Errorf("Недостаточно %s: %f < %f: %w", rules.BaseCoin, b.balances[rules.BaseCoin], qty, exchange.ErrInsufficientFunds)
		}
		b.balances[rules.BaseCoin] -= qty
		b.balances[rules.QuoteCoin] += notional
	default:
		return models.Fill{}, fmt.Errorf("Некорректное направление %q: %w", order.Side, exchange.ErrOrderRejected)
	}

	fill := models.Fill{
		OrderID:   "paper-" + uuid.NewString(),
		ClientID:  order.ClientID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Qty:       qty,
		QuoteQty:  notional,
		Timestamp: b.now(),
	}

	b.log.WithOrderID(fill.OrderID).WithFields(logrus.Fields{
		"component": "paper",
		"symbol":    fill.Symbol,
		"side":      fill.Side,
		"qty":       fill.Qty,
		"price":     price,
	}).Info("Бумажный ордер исполнен.")

	return fill, nil
}
