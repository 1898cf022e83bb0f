package binance

import (
	"context"
	"net/http"
	"net/url"

	"smartdca/internal/exchange"
)

func (c *Client) GetBalances(ctx context.Context, coins []string) (map[string]exchange.Balance, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")

	var resp accountInfo
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", params, true, &resp); err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, coin := range coins {
		wanted[coin] = true
	}

	balances := map[string]exchange.Balance{}
	for _, item := range resp.Balances {
		if len(wanted) > 0 && !wanted[item.Asset] {
			continue
		}
		free, _ := exchange.ParseFloatOrZero(item.Free)
		locked, _ := exchange.ParseFloatOrZero(item.Locked)

		balances[item.Asset] = exchange.Balance{
			Coin:      item.Asset,
			Wallet:    free + locked,
			Available: free,
		}
	}

	// requested coins the account has never held are reported as zero
	for coin := range wanted {
		if _, ok := balances[coin]; !ok {
			balances[coin] = exchange.Balance{Coin: coin}
		}
	}
	return balances, nil
}
