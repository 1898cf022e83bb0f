package exchange

import (
	"context"
	"errors"
	"fmt"

	"smartdca/internal/models"
)

var (
	// ErrAPIUnavailable covers transport failures, timeouts, 5xx, rate limits
	// and rejected credentials. The tick is skipped and retried later.
	ErrAPIUnavailable = errors.New("exchange api unavailable")
	// ErrOrderRejected abandons the order for this tick without mutating state.
	ErrOrderRejected     = errors.New("order rejected")
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrOrderRejected)
	ErrBelowMinNotional  = fmt.Errorf("%w: below minimum notional", ErrOrderRejected)
)

type InstrumentRules struct {
	TickSize    float64
	LotSize     float64
	MinQty      float64
	MinNotional float64
	BaseCoin    string
	QuoteCoin   string
}

type Balance struct {
	Coin      string
	Wallet    float64
	Available float64
}

type Client interface {
	Ping(ctx context.Context) error
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// GetCandles returns closed and current candles ordered oldest to newest.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetBalances(ctx context.Context, coins []string) (map[string]Balance, error)
	GetInstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)
	// PlaceMarketOrder returns the executed quantity and quote amount as
	// reported by the venue.
	PlaceMarketOrder(ctx context.Context, order models.MarketOrder) (models.Fill, error)
}

// Unavailable wraps err as ErrAPIUnavailable keeping the cause in the message.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrAPIUnavailable, err)
}
