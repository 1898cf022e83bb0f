package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"smartdca/internal/models"
)

// ForVenue picks the ticker decoder matching the configured exchange name.
func ForVenue(name string) (Decoder, error) {
	switch strings.ToLower(name) {
	case "binance":
		return Binance{}, nil
	case "bybit":
		return Bybit{}, nil
	}
	return nil, fmt.Errorf("Нет WS потока для биржи: %s", name)
}

// Binance decodes <symbol>@miniTicker frames.
type Binance struct{}

func (Binance) Name() string { return "binance" }

func (Binance) Subscribe(symbol string) any {
	return binanceSubscribe{
		Method: "SUBSCRIBE",
		Params: []string{strings.ToLower(symbol) + "@miniTicker"},
		ID:     1,
	}
}

func (Binance) Decode(data []byte) (models.Ticker, bool, error) {
	var msg binanceMiniTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Ticker{}, false, err
	}
	if msg.Event != "24hrMiniTicker" {
		return models.Ticker{}, false, nil
	}

	price, err := strconv.ParseFloat(msg.Close, 64)
	if err != nil {
		return models.Ticker{}, false, fmt.Errorf("Некорректная цена %q: %w", msg.Close, err)
	}

	return models.Ticker{
		Symbol:    msg.Symbol,
		LastPrice: price,
		Timestamp: time.UnixMilli(msg.EventTime),
	}, true, nil
}

// Bybit decodes tickers.<SYMBOL> frames of the v5 public spot stream.
type Bybit struct{}

func (Bybit) Name() string { return "bybit" }

func (Bybit) Subscribe(symbol string) any {
	return subscribeMessage{
		Op:   "subscribe",
		Args: []string{"tickers." + strings.ToUpper(symbol)},
	}
}

func (Bybit) Decode(data []byte) (models.Ticker, bool, error) {
	var msg bybitMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Ticker{}, false, err
	}
	if msg.Op != "" && msg.Success != nil && !*msg.Success {
		return models.Ticker{}, false, fmt.Errorf("Подписка WS отклонена: %s", string(data))
	}
	if !strings.HasPrefix(msg.Topic, "tickers") {
		return models.Ticker{}, false, nil
	}

	var item bybitTicker
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		var list []bybitTicker
		if err := json.Unmarshal(msg.Data, &list); err != nil || len(list) == 0 {
			return models.Ticker{}, false, fmt.Errorf("Не удалось разобрать ticker: %s", string(msg.Data))
		}
		item = list[len(list)-1]
	}

	price, err := strconv.ParseFloat(item.LastPrice, 64)
	if err != nil {
		return models.Ticker{}, false, fmt.Errorf("Некорректная цена %q: %w", item.LastPrice, err)
	}

	return models.Ticker{
		Symbol:    item.Symbol,
		LastPrice: price,
		Timestamp: time.UnixMilli(msg.TS),
	}, true, nil
}
