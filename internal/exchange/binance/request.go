package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"smartdca/internal/exchange"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}

	query := params.Encode()
	if signed {
		params.Set("recvWindow", strconv.Itoa(c.recvWindow))
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query = params.Encode()
		query += "&signature=" + sign(c.secret, query)
	}

	urlStr := c.baseURL + path
	if query != "" {
		urlStr += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exchange.Unavailable(path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.Unavailable(path, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		return mapError(resp.StatusCode, apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("Не удалось разобрать ответ %s: %w", path, err)
	}
	return nil
}

// mapError turns a Binance error payload into one of the exchange error kinds.
func mapError(status int, apiErr apiError) error {
	kind := exchange.ErrOrderRejected

	switch {
	case status >= 500, status == http.StatusTeapot, status == http.StatusTooManyRequests:
		kind = exchange.ErrAPIUnavailable
	case apiErr.Code == -1021, apiErr.Code == -1022, apiErr.Code == -2014, apiErr.Code == -2015:
		kind = exchange.ErrAPIUnavailable
	case apiErr.Code == -2010 && strings.Contains(strings.ToLower(apiErr.Msg), "insufficient"):
		kind = exchange.ErrInsufficientFunds
	case apiErr.Code == -1013 && strings.Contains(strings.ToUpper(apiErr.Msg), "NOTIONAL"):
		kind = exchange.ErrBelowMinNotional
	}

	return fmt.Errorf("Ошибка binance: %s (status=%d code=%d): %w", apiErr.Msg, status, apiErr.Code, kind)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
