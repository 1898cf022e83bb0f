package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"smartdca/internal/exchange"
)

func (c *Client) GetBalances(ctx context.Context, coins []string) (map[string]exchange.Balance, error) {
	params := url.Values{}
	params.Set("accountType", c.accountType)

	if len(coins) > 0 {
		params.Set("coin", strings.Join(coins, ","))
	}

	var resp bybitResponse[struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				Locked              string `json:"locked"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, true, &resp); err != nil {
		return nil, err
	}

	balances := map[string]exchange.Balance{}
	for _, coin := range coins {
		balances[coin] = exchange.Balance{Coin: coin}
	}

	for _, account := range resp.Result.List {
		for _, item := range account.Coin {
			wallet, _ := exchange.ParseFloatOrZero(item.WalletBalance)
			locked, _ := exchange.ParseFloatOrZero(item.Locked)

			available := wallet - locked
			if available < 0 {
				available = 0
			}
			if withdrawable, _ := exchange.ParseFloatOrZero(item.AvailableToWithdraw); withdrawable > 0 && available == 0 {
				available = withdrawable
			}

			balances[item.Coin] = exchange.Balance{
				Coin:      item.Coin,
				Wallet:    wallet,
				Available: available,
			}
		}
	}
	return balances, nil
}
