package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"smartdca/internal/logger"
	"smartdca/internal/models"
)

// Decoder knows one venue's public ticker stream.
type Decoder interface {
	Name() string
	// Subscribe returns the message that starts the ticker stream for symbol.
	Subscribe(symbol string) any
	// Decode returns ok=false for frames that carry no price (acks, pings).
	Decode(data []byte) (models.Ticker, bool, error)
}

type Feed struct {
	url     string
	symbol  string
	decoder Decoder
	log     *logger.Logger
	dialer  *websocket.Dialer
	now     func() time.Time

	mu   sync.RWMutex
	last models.Ticker

	reconnectMin time.Duration
	reconnectMax time.Duration
}

type bybitMessage struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type binanceMiniTicker struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

type subscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}
