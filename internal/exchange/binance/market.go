package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"smartdca/internal/exchange"
	"smartdca/internal/models"
)

func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/api/v3/ping", nil, false, nil)
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, false, &resp); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("Некорректная цена %q для %s", resp.Price, symbol)
	}
	return price, nil
}

// GetCandles returns klines oldest to newest, the last one may still be open.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var rows [][]json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/klines", params, false, &rows); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("Некорректная свеча #%d для %s: %w", i, symbol, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(row []json.RawMessage) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("ожидалось минимум 6 полей, получено %d", len(row))
	}

	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return models.Candle{}, err
	}

	values := make([]float64, 5)
	for i := range values {
		var text string
		if err := json.Unmarshal(row[i+1], &text); err != nil {
			return models.Candle{}, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return models.Candle{}, err
		}
		values[i] = v
	}

	return models.Candle{
		OpenTime: time.UnixMilli(openTime),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}

func (c *Client) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp exchangeInfo
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &resp); err != nil {
		return exchange.InstrumentRules{}, err
	}
	if len(resp.Symbols) == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Торговая пара не найдена: %s", symbol)
	}

	info := resp.Symbols[0]
	rules := exchange.InstrumentRules{
		BaseCoin:  info.BaseAsset,
		QuoteCoin: info.QuoteAsset,
	}

	for _, f := range info.Filters {
		var err error
		switch f.FilterType {
		case "PRICE_FILTER":
			rules.TickSize, err = exchange.ParseFloatOrZero(f.TickSize)
		case "LOT_SIZE":
			rules.LotSize, err = exchange.ParseFloatOrZero(f.StepSize)
			if err == nil {
				rules.MinQty, err = exchange.ParseFloatOrZero(f.MinQty)
			}
		case "NOTIONAL", "MIN_NOTIONAL":
			rules.MinNotional, err = exchange.ParseFloatOrZero(f.MinNotional)
		}
		if err != nil {
			return exchange.InstrumentRules{}, fmt.Errorf("Некорректный фильтр %s для %s: %w", f.FilterType, symbol, err)
		}
	}

	if rules.LotSize == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Не удалось определить lot size для торговой пары: %s", symbol)
	}
	return rules, nil
}
