// Package rest is a signed Bybit v5 spot client implementing exchange.Client.
package rest

import (
	"net/http"
	"strconv"
	"time"

	"smartdca/internal/logger"
)

type Client struct {
	baseURL     string
	accountType string
	apiKey      string
	secret      string
	recvWindow  string
	httpClient  *http.Client
	log         *logger.Logger
	now         func() time.Time

	fillPollEvery time.Duration
	fillTimeout   time.Duration
}

func New(baseURL, apiKey, secret, accountType string, recvWindow int, log *logger.Logger) *Client {
	if accountType == "" {
		accountType = "UNIFIED"
	}
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	return &Client{
		baseURL:     baseURL,
		accountType: accountType,
		apiKey:      apiKey,
		secret:      secret,
		recvWindow:  strconv.Itoa(recvWindow),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log:           log,
		now:           time.Now,
		fillPollEvery: 500 * time.Millisecond,
		fillTimeout:   10 * time.Second,
	}
}
