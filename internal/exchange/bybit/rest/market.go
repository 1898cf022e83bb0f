package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"smartdca/internal/exchange"
	"smartdca/internal/models"
)

func (c *Client) Ping(ctx context.Context) error {
	var resp bybitResponse[struct {
		TimeSecond string `json:"timeSecond"`
	}]
	return c.doRequest(ctx, http.MethodGet, "/v5/market/time", nil, nil, false, &resp)
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)

	var resp bybitResponse[struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false, &resp); err != nil {
		return 0, err
	}

	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("Торговая пара не найдена: %s", symbol)
	}

	price, err := strconv.ParseFloat(resp.Result.List[0].LastPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("Некорректная цена %q для %s", resp.Result.List[0].LastPrice, symbol)
	}
	return price, nil
}

// GetCandles reverses the newest-first kline list so callers get oldest to newest.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	bybitInterval, ok := intervals[interval]
	if !ok {
		return nil, fmt.Errorf("Неподдерживаемый интервал: %s", interval)
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	params.Set("interval", bybitInterval)
	params.Set("limit", strconv.Itoa(limit))

	var resp bybitResponse[struct {
		List [][]string `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, nil, false, &resp); err != nil {
		return nil, err
	}

	rows := resp.Result.List
	candles := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("Некорректная свеча для %s: %v", symbol, row)
		}

		values := make([]float64, 6)
		for j := range values {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("Некорректная свеча для %s: %w", symbol, err)
			}
			values[j] = v
		}

		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(int64(values[0])),
			Open:     values[1],
			High:     values[2],
			Low:      values[3],
			Close:    values[4],
			Volume:   values[5],
		})
	}
	return candles, nil
}

func (c *Client) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)

	var resp bybitResponse[instrumentInfo]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil, false, &resp); err != nil {
		return exchange.InstrumentRules{}, err
	}

	if len(resp.Result.List) == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Торговая пара не найдена: %s", symbol)
	}

	info := resp.Result.List[0]

	tick, err := exchange.ParseFloatOrZero(info.PriceFilter.TickSize)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение tickSize=%q: %w", info.PriceFilter.TickSize, err)
	}

	lot, err := exchange.ParseFloatOrZero(info.LotSizeFilter.QtyStep)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение qtyStep=%q: %w", info.LotSizeFilter.QtyStep, err)
	}

	if lot == 0 {
		lot, err = exchange.ParseFloatOrZero(info.LotSizeFilter.BasePrecision)
		if err != nil {
			return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение basePrecision=%q: %w", info.LotSizeFilter.BasePrecision, err)
		}
	}

	if lot == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Не удалось определить lot size для торговой пары: %s", symbol)
	}

	minQty, err := exchange.ParseFloatOrZero(info.LotSizeFilter.MinOrderQty)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение minOrderQty=%q: %w", info.LotSizeFilter.MinOrderQty, err)
	}

	minNotional, err := exchange.ParseFloatOrZero(info.LotSizeFilter.MinOrderAmt)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректное значение minOrderAmt=%q: %w", info.LotSizeFilter.MinOrderAmt, err)
	}

	return exchange.InstrumentRules{
		TickSize:    tick,
		LotSize:     lot,
		MinQty:      minQty,
		MinNotional: minNotional,
		BaseCoin:    info.BaseCoin,
		QuoteCoin:   info.QuoteCoin,
	}, nil
}
