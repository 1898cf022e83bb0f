// Package binance is a signed REST client for Binance spot implementing
// exchange.Client.
package binance

import (
	"net/http"
	"time"

	"smartdca/internal/logger"
)

type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	recvWindow int
	httpClient *http.Client
	log        *logger.Logger
	now        func() time.Time
}

func New(baseURL, apiKey, secret string, recvWindow int, log *logger.Logger) *Client {
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		secret:     secret,
		recvWindow: recvWindow,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}
