package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdca/internal/config"
	"smartdca/internal/exchange"
	"smartdca/internal/logger"
	"smartdca/internal/models"
	"smartdca/internal/monitoring"
)

const (
	testHTF = "4h"
	testLTF = "15m"
)

type fakeClient struct {
	mu sync.Mutex

	price    float64
	htf      []models.Candle
	ltf      []models.Candle
	rules    exchange.InstrumentRules
	balances map[string]float64

	priceErr error
	pingErr  error
	rulesErr error
	placeErr error
	quoteErr error
	panicMsg string

	priceCalls int
	orders     []models.MarketOrder
	fills      []models.Fill
}

func newFakeClient(quote float64) *fakeClient {
	return &fakeClient{
		price: 100,
		htf:   risingCandles(250),
		ltf:   flatCandles(300, 100),
		rules: exchange.InstrumentRules{
			LotSize:     0.001,
			MinQty:      0.001,
			MinNotional: 5,
			BaseCoin:    "TON",
			QuoteCoin:   "USDT",
		},
		balances: map[string]float64{"USDT": quote},
	}
}

func (f *fakeClient) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if interval == testHTF {
		return f.htf, nil
	}
	return f.ltf, nil
}

func (f *fakeClient) GetBalances(ctx context.Context, coins []string) (map[string]exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]exchange.Balance, len(coins))
	for _, coin := range coins {
		if coin == "USDT" && f.quoteErr != nil {
			return nil, f.quoteErr
		}
		out[coin] = exchange.Balance{Coin: coin, Wallet: f.balances[coin], Available: f.balances[coin]}
	}
	return out, nil
}

func (f *fakeClient) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	if f.rulesErr != nil {
		return exchange.InstrumentRules{}, f.rulesErr
	}
	return f.rules, nil
}

func (f *fakeClient) PlaceMarketOrder(ctx context.Context, order models.MarketOrder) (models.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return models.Fill{}, f.placeErr
	}
	f.orders = append(f.orders, order)
	fill := models.Fill{
		OrderID:  "fake-" + order.ClientID,
		ClientID: order.ClientID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Qty:      order.Qty,
		QuoteQty: order.Qty * f.price,
	}
	if order.Side == models.OrderSideBuy {
		f.balances["USDT"] -= fill.QuoteQty
		f.balances["TON"] += fill.Qty
	} else {
		f.balances["USDT"] += fill.QuoteQty
		f.balances["TON"] -= fill.Qty
	}
	f.fills = append(f.fills, fill)
	return fill, nil
}

func (f *fakeClient) setPrice(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
}

func (f *fakeClient) setHTF(candles []models.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.htf = candles
}

func (f *fakeClient) setLTF(candles []models.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ltf = candles
}

func (f *fakeClient) setBalance(coin string, amount float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[coin] = amount
}

func (f *fakeClient) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return n.err
}

func (n *recordingNotifier) contains(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, msg := range n.msgs {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func risingCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		c := 100 + 0.5*float64(i)
		out[i] = models.Candle{Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func fallingCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		c := 300 - 0.5*float64(i)
		out[i] = models.Candle{Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func flatCandles(n int, price float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Open: price, High: price + 1, Low: price - 1, Close: price}
	}
	return out
}

func wideCandles(n int, price, halfRange float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Open: price, High: price + halfRange, Low: price - halfRange, Close: price}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			Symbol:              "TONUSDT",
			Symbols:             []string{"TONUSDT"},
			LTF:                 testLTF,
			HTF:                 testHTF,
			LTFLimit:            300,
			HTFLimit:            250,
			EMAFast:             50,
			EMASlow:             200,
			EMAEntry:            20,
			ATRPeriod:           14,
			ADXPeriod:           14,
			BBPeriod:            20,
			BBMult:              2,
			ADXTrend:            18,
			ADXMinTrade:         12,
			BaseOrderQuote:      20,
			MaxSafetyOrders:     2,
			VolMult:             1.15,
			StepATRTrend:        0.6,
			StepATRRange:        0.3,
			MinStepPct:          0.2,
			MaxPortfolioRiskPct: 100,
			MinTPPct:            0.3,
			TPATRTrend:          0.8,
			TPATRRange:          0.5,
			ArmATRMult:          0.25,
			TrailATRMult:        0.7,
			TrailShare:          0.5,
			MinNetProfitPct:     0.15,
			StopATRMult:         1.8,
			CommissionRate:      0.001,
			Cooldown:            30 * time.Minute,
		},
		Runtime: config.RuntimeConfig{
			PollInterval: 10 * time.Millisecond,
			CallTimeout:  time.Second,
			Retries:      2,
		},
	}
}

type harness struct {
	eng      *Engine
	client   *fakeClient
	notifier *recordingNotifier
	clock    *fakeClock
	reg      *prometheus.Registry
	health   *monitoring.HealthChecker
}

func newHarness(t *testing.T, cfg *config.Config, client *fakeClient) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := &harness{
		client:   client,
		notifier: &recordingNotifier{},
		clock:    &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		reg:      reg,
		health:   monitoring.NewHealthChecker(time.Minute),
	}
	h.eng = New(cfg, client, h.notifier, monitoring.NewMetrics(reg), h.health, logger.NewWithWriter(io.Discard, logrus.PanicLevel))
	h.eng.now = h.clock.Now
	h.eng.retryBase = time.Millisecond
	h.eng.rules = client.rules
	return h
}

func countSeries(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	n, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	return n
}

func (h *harness) tickAt(price float64) {
	h.client.setPrice(price)
	h.eng.Tick(context.Background())
}

func TestEntryDCAAndTrailingExit(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())
	require.Len(t, h.client.orders, 1)
	assert.Equal(t, models.OrderKindEntry, h.client.orders[0].Kind)
	assert.InDelta(t, 0.204, h.client.orders[0].Qty, 1e-12)
	assert.InDelta(t, 96.8, h.eng.pos.NextDCAPrice, 1e-9)
	assert.InDelta(t, 99.6, h.eng.pos.TakeProfit, 1e-9)
	assert.InDelta(t, 94.4, h.eng.pos.StopPrice, 1e-9)
	assert.True(t, h.notifier.contains("Вход LONG"))

	// Same conditions again must not trade.
	h.tickAt(98)
	assert.Equal(t, 1, h.client.orderCount())

	h.tickAt(96.7)
	require.Len(t, h.client.orders, 2)
	assert.Equal(t, models.OrderKindSafety, h.client.orders[1].Kind)
	assert.InDelta(t, 0.103, h.client.orders[1].Qty, 1e-12)
	assert.Equal(t, 1, h.eng.pos.SafetyFilled)
	assert.InDelta(t, 95.5, h.eng.pos.NextDCAPrice, 1e-9)
	assert.True(t, h.notifier.contains("DCA 1/2"))

	avg, ok := h.eng.pos.AvgPrice()
	require.True(t, ok)
	assert.InDelta(t, h.eng.pos.TotalCost/h.eng.pos.TotalQty, avg, 1e-12)

	var stops []float64
	for _, price := range []float64{101, 102} {
		h.tickAt(price)
		require.True(t, h.eng.pos.InPosition())
		stops = append(stops, h.eng.pos.StopPrice)
	}
	assert.True(t, h.eng.pos.Armed())
	assert.InDelta(t, 99.6, stops[0], 1e-9)
	assert.InDelta(t, 100.582, stops[1], 1e-3)
	assert.GreaterOrEqual(t, stops[1], stops[0])

	costBefore := h.eng.pos.TotalCost
	feesBefore := h.eng.pos.TotalFees

	h.tickAt(100.5)
	require.False(t, h.eng.pos.InPosition())
	require.Len(t, h.client.fills, 3)
	sell := h.client.fills[2]
	assert.Equal(t, models.OrderSideSell, sell.Side)
	assert.InDelta(t, 0.307, sell.Qty, 1e-12)

	expected := sell.QuoteQty - costBefore - feesBefore - sell.QuoteQty*0.001
	assert.InDelta(t, expected, h.eng.pos.RealizedTotal, 1e-9)
	assert.InDelta(t, 0.8406, h.eng.pos.RealizedTotal, 1e-3)
	assert.True(t, h.notifier.contains("TRAIL: SELL"))

	assert.Equal(t, 3, countSeries(t, h.reg, "smartdca_orders_total"))
}

func TestCooldownBlocksReentry(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())
	h.client.setHTF(fallingCandles(250))
	h.tickAt(98)
	require.False(t, h.eng.pos.InPosition())

	h.client.setHTF(risingCandles(250))
	h.clock.Advance(10 * time.Minute)
	h.tickAt(98)
	assert.False(t, h.eng.pos.InPosition())
	assert.Equal(t, 2, h.client.orderCount())

	h.clock.Advance(21 * time.Minute)
	h.tickAt(98)
	assert.True(t, h.eng.pos.InPosition())
	assert.Equal(t, 3, h.client.orderCount())
}

func TestRegimeFlipClosesPosition(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())

	h.client.setHTF(fallingCandles(250))
	h.tickAt(98.5)

	assert.False(t, h.eng.pos.InPosition())
	require.Len(t, h.client.orders, 2)
	assert.Equal(t, models.OrderSideSell, h.client.orders[1].Side)
	assert.True(t, h.notifier.contains("REGIME FLIP"))
	assert.False(t, h.eng.pos.CooldownUntil.IsZero())
}

func TestStopLossExit(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.MaxSafetyOrders = 0
	h := newHarness(t, cfg, newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())

	h.tickAt(94)
	assert.False(t, h.eng.pos.InPosition())
	assert.Less(t, h.eng.pos.RealizedTotal, 0.0)
	assert.True(t, h.notifier.contains("SL: SELL"))
}

func TestShortBiasNoEntry(t *testing.T) {
	client := newFakeClient(1000)
	client.htf = fallingCandles(250)
	h := newHarness(t, testConfig(), client)

	h.tickAt(90)
	assert.False(t, h.eng.pos.InPosition())
	assert.Zero(t, client.orderCount())
}

func TestDCACapRespected(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.StopATRMult = 40
	h := newHarness(t, cfg, newFakeClient(1000))

	for _, price := range []float64{98, 96.7, 95.4, 94.0, 90, 85} {
		h.tickAt(price)
		assert.LessOrEqual(t, h.eng.pos.SafetyFilled, cfg.Bot.MaxSafetyOrders)
	}

	assert.Equal(t, 2, h.eng.pos.SafetyFilled)
	assert.Equal(t, 3, h.client.orderCount())
	assert.Len(t, h.eng.pos.Lots, 3)
}

func TestMinNotionalSkipsEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.BaseOrderQuote = 150
	client := newFakeClient(150)
	client.rules.LotSize = 1
	client.rules.MinQty = 1
	client.rules.MinNotional = 100
	h := newHarness(t, cfg, client)

	h.tickAt(98)

	assert.False(t, h.eng.pos.InPosition())
	assert.Zero(t, client.orderCount())
}

func TestRiskCeilingLimitsEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.MaxPortfolioRiskPct = 1
	h := newHarness(t, cfg, newFakeClient(1000))

	h.tickAt(98)

	require.True(t, h.eng.pos.InPosition())
	assert.LessOrEqual(t, h.eng.pos.TotalCost, 10.0)
	assert.InDelta(t, 0.102, h.eng.pos.TotalQty, 1e-12)
}

func TestInsufficientHistorySkipsEntry(t *testing.T) {
	client := newFakeClient(1000)
	client.ltf = flatCandles(5, 100)
	h := newHarness(t, testConfig(), client)

	h.tickAt(90)

	assert.False(t, h.eng.pos.InPosition())
	assert.Zero(t, client.orderCount())
}

func TestOrderRejectionLeavesStateUnchanged(t *testing.T) {
	client := newFakeClient(1000)
	client.placeErr = exchange.ErrInsufficientFunds
	h := newHarness(t, testConfig(), client)

	h.tickAt(98)

	assert.False(t, h.eng.pos.InPosition())
	assert.Empty(t, h.eng.pos.Lots)
	assert.True(t, h.notifier.contains("отклонён"))
	assert.Equal(t, 1, countSeries(t, h.reg, "smartdca_order_rejections_total"))
	assert.Equal(t, "healthy", h.health.Status().Status)
}

func TestAPIUnavailableSkipsTick(t *testing.T) {
	client := newFakeClient(1000)
	client.priceErr = exchange.Unavailable("GetPrice", errors.New("connection refused"))
	h := newHarness(t, testConfig(), client)
	h.health.Register("TONUSDT")

	h.tickAt(98)

	assert.Equal(t, 2, client.priceCalls)
	assert.Zero(t, client.orderCount())
	assert.True(t, h.notifier.contains("API биржи недоступно"))
	assert.Contains(t, h.health.Status().Symbols["TONUSDT"].LastError, "connection refused")
	assert.Equal(t, "degraded", h.health.Status().Status)

	client.priceErr = nil
	h.tickAt(98)
	assert.True(t, h.eng.pos.InPosition())
}

func TestNotifierFailureDoesNotStopTrading(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))
	h.notifier.err = errors.New("telegram down")

	h.tickAt(98)

	assert.True(t, h.eng.pos.InPosition())
	assert.Equal(t, 1, countSeries(t, h.reg, "smartdca_notify_failures_total"))
}

func TestTickRecoversFromPanic(t *testing.T) {
	client := newFakeClient(1000)
	client.panicMsg = "boom"
	h := newHarness(t, testConfig(), client)

	assert.NotPanics(t, func() { h.tickAt(98) })
	assert.True(t, h.notifier.contains("boom"))

	client.panicMsg = ""
	h.tickAt(98)
	assert.True(t, h.eng.pos.InPosition())
}

func TestStatusReportInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.StatusEvery = time.Hour
	client := newFakeClient(1000)
	client.htf = fallingCandles(250)
	h := newHarness(t, cfg, client)

	h.tickAt(100)
	h.tickAt(100)
	require.Len(t, h.notifier.msgs, 1)
	assert.Contains(t, h.notifier.msgs[0], "📊 *TONUSDT*")
	assert.Contains(t, h.notifier.msgs[0], "USDT: 1000.00")

	h.clock.Advance(time.Hour)
	h.tickAt(100)
	assert.Len(t, h.notifier.msgs, 2)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	client := newFakeClient(1000)
	client.pingErr = exchange.Unavailable("Ping", errors.New("timeout"))
	h := newHarness(t, testConfig(), client)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, h.eng.Start(ctx))

	assert.True(t, h.notifier.contains("🚀 Smart DCA bot started for *TONUSDT*"))
	assert.True(t, h.notifier.contains("Нет доступа к API биржи"))
	assert.True(t, h.eng.pos.InPosition())
}

func TestStartFailsWithoutRules(t *testing.T) {
	client := newFakeClient(1000)
	client.rulesErr = errors.New("unknown symbol")
	h := newHarness(t, testConfig(), client)

	err := h.eng.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown symbol")
}

func TestDCAKeepsEntryStep(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())
	require.InDelta(t, 1.2, h.eng.pos.DCAStep, 1e-12)

	// ATR doubles to 4 before the safety order fills.
	h.client.setLTF(wideCandles(300, 100, 2))
	h.tickAt(96.7)

	require.Equal(t, 1, h.eng.pos.SafetyFilled)
	assert.InDelta(t, 1.2, h.eng.pos.DCAStep, 1e-12)
	assert.InDelta(t, 95.5, h.eng.pos.NextDCAPrice, 1e-9)
}

func TestExitBelowLotStepKeepsPosition(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())
	cost := h.eng.pos.TotalCost

	h.client.setBalance("TON", 0.0004)
	h.client.setHTF(fallingCandles(250))
	h.tickAt(98)

	assert.Equal(t, 1, h.client.orderCount())
	assert.True(t, h.eng.pos.InPosition())
	assert.InDelta(t, cost, h.eng.pos.TotalCost, 1e-12)
	assert.Zero(t, h.eng.pos.RealizedTotal)
	assert.True(t, h.eng.pos.CooldownUntil.IsZero())
	assert.True(t, h.notifier.contains("выход по TONUSDT пропущен"))
}

func TestExitBelowMinNotionalKeepsPosition(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())

	// 0.04 TON at 98 is 3.92 USDT, under the 5 USDT minimum.
	h.client.setBalance("TON", 0.04)
	h.client.setHTF(fallingCandles(250))
	h.tickAt(98)

	assert.Equal(t, 1, h.client.orderCount())
	assert.True(t, h.eng.pos.InPosition())
	assert.Zero(t, h.eng.pos.RealizedTotal)
	assert.True(t, h.eng.pos.CooldownUntil.IsZero())
	assert.True(t, h.notifier.contains("меньше минимального"))
}

func TestStopRunsWhenDCAFails(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeClient(1000))

	h.tickAt(98)
	require.True(t, h.eng.pos.InPosition())

	h.client.quoteErr = exchange.Unavailable("GetBalances", errors.New("connection reset"))
	h.tickAt(94)

	assert.False(t, h.eng.pos.InPosition())
	require.Equal(t, 2, h.client.orderCount())
	assert.Equal(t, models.OrderSideSell, h.client.orders[1].Side)
	assert.True(t, h.notifier.contains("SL: SELL"))
	assert.True(t, h.notifier.contains("API биржи недоступно"))
}
