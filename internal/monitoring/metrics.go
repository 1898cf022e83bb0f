package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartdca"

// Metrics holds the bot collectors. All series carry the symbol label so one
// registry serves every strategy instance.
type Metrics struct {
	ticks          *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	orders         *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	price          *prometheus.GaugeVec
	positionQty    *prometheus.GaugeVec
	avgPrice       *prometheus.GaugeVec
	stopPrice      *prometheus.GaugeVec
	takeProfit     *prometheus.GaugeVec
	realizedProfit *prometheus.GaugeVec
	safetyFilled   *prometheus.GaugeVec
	regime         *prometheus.GaugeVec
	notifyFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluation ticks by outcome.",
		}, []string{"symbol", "outcome"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one evaluation tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Filled market orders.",
		}, []string{"symbol", "side", "kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_rejections_total",
			Help:      "Orders rejected by the venue.",
		}, []string{"symbol", "kind"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price",
			Help:      "Last evaluated price.",
		}, []string{"symbol"}),
		positionQty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_quantity",
			Help:      "Open position quantity in base coin.",
		}, []string{"symbol"}),
		avgPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_average_price",
			Help:      "Average entry price of the open position.",
		}, []string{"symbol"}),
		stopPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_stop_price",
			Help:      "Protective stop of the open position.",
		}, []string{"symbol"}),
		takeProfit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_take_profit_price",
			Help:      "Take-profit level of the open position.",
		}, []string{"symbol"}),
		realizedProfit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_profit",
			Help:      "Realized profit in quote coin since start.",
		}, []string{"symbol"}),
		safetyFilled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "safety_orders_filled",
			Help:      "Safety orders filled in the open position.",
		}, []string{"symbol"}),
		regime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regime",
			Help:      "Market regime: 0 flat, 1 range, 2 trend.",
		}, []string{"symbol"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notifications that could not be delivered.",
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		m.ticks, m.tickDuration, m.orders, m.rejections, m.price,
		m.positionQty, m.avgPrice, m.stopPrice, m.takeProfit,
		m.realizedProfit, m.safetyFilled, m.regime, m.notifyFailures,
	)
	return m
}

func (m *Metrics) RecordTick(symbol, outcome string, seconds float64) {
	m.ticks.WithLabelValues(symbol, outcome).Inc()
	m.tickDuration.WithLabelValues(symbol).Observe(seconds)
}

func (m *Metrics) RecordOrder(symbol, side, kind string) {
	m.orders.WithLabelValues(symbol, side, kind).Inc()
}

func (m *Metrics) RecordRejection(symbol, kind string) {
	m.rejections.WithLabelValues(symbol, kind).Inc()
}

func (m *Metrics) RecordNotifyFailure(symbol string) {
	m.notifyFailures.WithLabelValues(symbol).Inc()
}

func (m *Metrics) UpdateMarket(symbol string, price, regimeCode float64) {
	m.price.WithLabelValues(symbol).Set(price)
	m.regime.WithLabelValues(symbol).Set(regimeCode)
}

type PositionSnapshot struct {
	Qty            float64
	AvgPrice       float64
	StopPrice      float64
	TakeProfit     float64
	RealizedProfit float64
	SafetyFilled   int
}

func (m *Metrics) UpdatePosition(symbol string, p PositionSnapshot) {
	m.positionQty.WithLabelValues(symbol).Set(p.Qty)
	m.avgPrice.WithLabelValues(symbol).Set(p.AvgPrice)
	m.stopPrice.WithLabelValues(symbol).Set(p.StopPrice)
	m.takeProfit.WithLabelValues(symbol).Set(p.TakeProfit)
	m.realizedProfit.WithLabelValues(symbol).Set(p.RealizedProfit)
	m.safetyFilled.WithLabelValues(symbol).Set(float64(p.SafetyFilled))
}
