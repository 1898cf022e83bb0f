package rest

import (
	"bytes"
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

	"smartdca/internal/exchange"
)

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body any, auth bool, out any) error {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("Не удалось подготовить тело запроса: %w", err)
		}
		bodyStr = string(payload)
		bodyReader = bytes.NewReader(payload)
	}

	urlStr := c.baseURL + path
	if len(params) > 0 {
		urlStr += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}

	if auth {
		timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
		query := ""

		if method == http.MethodGet && len(params) > 0 {
			query = params.Encode()
		}

		signBase := timestamp + c.apiKey + c.recvWindow + query + bodyStr
		signature := sign(c.secret, signBase)

		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exchange.Unavailable(path, err)
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.Unavailable(path, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return exchange.Unavailable(path, fmt.Errorf("Неуспешный статус: %s", resp.Status))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("Не удалось разобрать ответ %s: %w", path, err)
	}

	if rs, ok := out.(retStatus); ok {
		if retCode, retMsg := rs.status(); retCode != 0 {
			return mapRetCode(retCode, retMsg)
		}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("Неуспешный статус: %s: %w", resp.Status, exchange.ErrOrderRejected)
	}

	return nil
}

// mapRetCode turns a non-zero Bybit retCode into one of the exchange error kinds.
func mapRetCode(code int, msg string) error {
	kind := exchange.ErrOrderRejected

	switch code {
	case 10002, 10003, 10004, 10005, 10006, 10016, 10018:
		kind = exchange.ErrAPIUnavailable
	case 170131:
		kind = exchange.ErrInsufficientFunds
	case 170140, 170136:
		kind = exchange.ErrBelowMinNotional
	}

	return fmt.Errorf("Ошибка bybit: %s (code=%d): %w", msg, code, kind)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
