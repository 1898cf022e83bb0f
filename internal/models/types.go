package models

import "time"

type OrderSide string
type OrderKind string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderKindEntry  OrderKind = "ENTRY"
	OrderKindSafety OrderKind = "SAFETY"
	OrderKindExit   OrderKind = "EXIT"
)

// Candle is one OHLCV bar. Sequences are ordered oldest to newest.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

type MarketOrder struct {
	ClientID string    `json:"client_id"`
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Kind     OrderKind `json:"kind"`
	Qty      float64   `json:"qty"`
	QtyStep  float64   `json:"qty_step"`
}

// Fill is what the venue reports for an executed market order. Qty and
// QuoteQty are authoritative, the requested quantity is not.
type Fill struct {
	OrderID   string    `json:"order_id"`
	ClientID  string    `json:"client_id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Qty       float64   `json:"qty"`
	QuoteQty  float64   `json:"quote_qty"`
	Timestamp time.Time `json:"timestamp"`
}

func (f Fill) Price() float64 {
	if f.Qty == 0 {
		return 0
	}
	return f.QuoteQty / f.Qty
}

type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}
