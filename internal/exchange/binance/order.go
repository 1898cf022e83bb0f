package binance

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

// PlaceMarketOrder sends a MARKET order with a FULL response and reports the
// executed quantity and cumulative quote amount.
func (c *Client) PlaceMarketOrder(ctx context.Context, order models.MarketOrder) (models.Fill, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", exchange.FormatWithStep(order.Qty, order.QtyStep))
	params.Set("newOrderRespType", "FULL")
	if order.ClientID != "" {
		params.Set("newClientOrderId", order.ClientID)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return models.Fill{}, err
	}

	qty, err := exchange.ParseFloatOrZero(resp.ExecutedQty)
	if err != nil {
		return models.Fill{}, fmt.Errorf("Некорректное executedQty=%q: %w", resp.ExecutedQty, err)
	}
	quote, err := exchange.ParseFloatOrZero(resp.CummulativeQuoteQty)
	if err != nil {
		return models.Fill{}, fmt.Errorf("Некорректное cummulativeQuoteQty=%q: %w", resp.CummulativeQuoteQty, err)
	}
	if qty <= 0 {
		return models.Fill{}, fmt.Errorf("Ордер %d не исполнен (status=%s): %w", resp.OrderID, resp.Status, exchange.ErrOrderRejected)
	}

	ts := c.now()
	if resp.TransactTime > 0 {
		ts = time.UnixMilli(resp.TransactTime)
	}

	fill := models.Fill{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		ClientID:  resp.ClientOrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Qty:       qty,
		QuoteQty:  quote,
		Timestamp: ts,
	}

	c.log.WithOrderID(fill.OrderID).WithFields(logrus.Fields{
		"symbol": fill.Symbol,
		"side":   fill.Side,
		"qty":    fill.Qty,
		"quote":  fill.QuoteQty,
	}).Debug("Рыночный ордер исполнен")

	return fill, nil
}
