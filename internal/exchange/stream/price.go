package stream

import (
	"context"
	"time"

	"smartdca/internal/exchange"
	"smartdca/internal/models"
)

type PriceSource interface {
	Last() (models.Ticker, bool)
}

type streamedClient struct {
	exchange.Client
	source PriceSource
	maxAge time.Duration
	now    func() time.Time
}

// WithFeed serves GetPrice from source while its last ticker is younger than
// maxAge and falls back to the wrapped client otherwise.
func WithFeed(client exchange.Client, source PriceSource, maxAge time.Duration) exchange.Client {
	return &streamedClient{Client: client, source: source, maxAge: maxAge, now: time.Now}
}

func (c *streamedClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if t, ok := c.source.Last(); ok && (t.Symbol == "" || t.Symbol == symbol) && c.now().Sub(t.Timestamp) <= c.maxAge {
		return t.LastPrice, nil
	}
	return c.Client.GetPrice(ctx, symbol)
}
