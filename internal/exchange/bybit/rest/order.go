package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"smartdca/internal/exchange"
	"smartdca/internal/models"
)

// PlaceMarketOrder creates a spot market order sized in base coin and waits
// for its executions to report the authoritative fill.
func (c *Client) PlaceMarketOrder(ctx context.Context, order models.MarketOrder) (models.Fill, error) {
	body := map[string]any{
		"category":   "spot",
		"symbol":     order.Symbol,
		"side":       bybitSide(order.Side),
		"orderType":  "Market",
		"qty":        exchange.FormatWithStep(order.Qty, order.QtyStep),
		"marketUnit": "baseCoin",
	}
	if order.ClientID != "" {
		body["orderLinkId"] = order.ClientID
	}

	var resp bybitResponse[struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}]

	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true, &resp); err != nil {
		return models.Fill{}, err
	}

	fill, err := c.waitFill(ctx, order, resp.Result.OrderID)
	if err != nil {
		return models.Fill{}, err
	}

	c.log.WithOrderID(fill.OrderID).WithFields(logrus.Fields{
		"symbol": fill.Symbol,
		"side":   fill.Side,
		"qty":    fill.Qty,
		"quote":  fill.QuoteQty,
	}).Debug("Рыночный ордер исполнен")

	return fill, nil
}

func (c *Client) waitFill(ctx context.Context, order models.MarketOrder, orderID string) (models.Fill, error) {
	timeout := time.NewTimer(c.fillTimeout)
	defer timeout.Stop()

	ticker := time.NewTicker(c.fillPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.Fill{}, exchange.Unavailable("waitFill", ctx.Err())
		case <-timeout.C:
			return models.Fill{}, fmt.Errorf("Не дождались исполнения ордера %s: %w", orderID, exchange.ErrAPIUnavailable)
		case <-ticker.C:
			execs, err := c.executions(ctx, order.Symbol, orderID)
			if err != nil {
				c.log.WithOrderID(orderID).WithError(err).Warn("Не удалось получить исполнения ордера.")
				continue
			}

			var totalQty, totalQuote float64
			var lastTime time.Time
			for _, item := range execs.List {
				price, _ := strconv.ParseFloat(item.ExecPrice, 64)
				qty, _ := strconv.ParseFloat(item.ExecQty, 64)
				tsMs, _ := strconv.ParseInt(item.ExecTime, 10, 64)

				totalQty += qty
				totalQuote += qty * price
				if ts := time.UnixMilli(tsMs); ts.After(lastTime) {
					lastTime = ts
				}
			}

			if totalQty > 0 {
				return models.Fill{
					OrderID:   orderID,
					ClientID:  order.ClientID,
					Symbol:    order.Symbol,
					Side:      order.Side,
					Qty:       totalQty,
					QuoteQty:  totalQuote,
					Timestamp: lastTime,
				}, nil
			}
		}
	}
}

func (c *Client) executions(ctx context.Context, symbol, orderID string) (executionList, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp bybitResponse[executionList]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/execution/list", params, nil, true, &resp); err != nil {
		return executionList{}, err
	}
	return resp.Result, nil
}

func bybitSide(side models.OrderSide) string {
	if side == models.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}
