package paper

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdca/internal/exchange"
	"smartdca/internal/logger"
	"smartdca/internal/models"
)

type venueStub struct {
	exchange.Client
	price float64
}

func (v *venueStub) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return v.price, nil
}

func (v *venueStub) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	return exchange.InstrumentRules{LotSize: 0.01, MinQty: 0.01, MinNotional: 5, BaseCoin: "TON", QuoteCoin: "USDT"}, nil
}

func newBroker(price float64) (*Broker, *venueStub) {
	venue := &venueStub{price: price}
	return New(venue, 100, logger.NewWithWriter(io.Discard, logrus.PanicLevel)), venue
}

func TestBuyThenSell(t *testing.T) {
	ctx := context.Background()
	b, venue := newBroker(2.5)
	_, err := b.GetInstrumentRules(ctx, "TONUSDT")
	require.NoError(t, err)

	fill, err := b.PlaceMarketOrder(ctx, models.MarketOrder{Symbol: "TONUSDT", Side: models.OrderSideBuy, Qty: 8.169, QtyStep: 0.01})
	require.NoError(t, err)
	assert.Equal(t, 8.16, fill.Qty)
	assert.InDelta(t, 20.4, fill.QuoteQty, 1e-9)
	assert.Contains(t, fill.OrderID, "paper-")

	bal, err := b.GetBalances(ctx, []string{"USDT", "TON"})
	require.NoError(t, err)
	assert.InDelta(t, 79.6, bal["USDT"].Available, 1e-9)
	assert.Equal(t, 8.16, bal["TON"].Available)

	venue.price = 3
	fill, err = b.PlaceMarketOrder(ctx, models.MarketOrder{Symbol: "TONUSDT", Side: models.OrderSideSell, Qty: 8.16, QtyStep: 0.01})
	require.NoError(t, err)
	assert.InDelta(t, 24.48, fill.QuoteQty, 1e-9)

	bal, _ = b.GetBalances(ctx, []string{"USDT", "TON"})
	assert.InDelta(t, 104.08, bal["USDT"].Available, 1e-9)
	assert.InDelta(t, 0, bal["TON"].Available, 1e-12)
}

func TestRejections(t *testing.T) {
	ctx := context.Background()
	b, _ := newBroker(2.5)

	_, err := b.PlaceMarketOrder(ctx, models.MarketOrder{Symbol: "TONUSDT", Side: models.OrderSideBuy, Qty: 1})
	assert.ErrorIs(t, err, exchange.ErrBelowMinNotional)

	_, err = b.PlaceMarketOrder(ctx, models.MarketOrder{Symbol: "TONUSDT", Side: models.OrderSideBuy, Qty: 50})
	assert.ErrorIs(t, err, exchange.ErrInsufficientFunds)

	_, err = b.PlaceMarketOrder(ctx, models.MarketOrder{Symbol: "TONUSDT", Side: models.OrderSideSell, Qty: 4})
	assert.ErrorIs(t, err, exchange.ErrInsufficientFunds)

	_, err = b.PlaceMarketOrder(ctx, models.MarketOrder{Symbol: "TONUSDT", Side: models.OrderSideBuy, Qty: 0.001})
	assert.ErrorIs(t, err, exchange.ErrOrderRejected)

	bal, _ := b.GetBalances(ctx, []string{"USDT"})
	assert.Equal(t, 100.0, bal["USDT"].Available)
}
