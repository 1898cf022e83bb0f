package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartdca/internal/exchange"
	"smartdca/internal/models"
)

// withRetry repeats read-only calls that failed because the venue was
// unavailable. Anything else is returned at once.
func withRetry[T any](ctx context.Context, e *Engine, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := e.retryBase
	attempts := e.cfg.Runtime.Retries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		val, err := callWithTimeout(ctx, e, op, fn)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if !errors.Is(err, exchange.ErrAPIUnavailable) || i == attempts-1 {
			break
		}

		wait := time.Duration(math.Min(float64(backoff), float64(e.retryBase*30)))
		if isRateLimitError(err) {
			wait = time.Duration(math.Min(float64(backoff*4), float64(e.retryBase*30)))
		}
		e.logEntry().WithError(lastErr).WithField("op", op).Warn("Ошибка, повторяем запрос.")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return zero, lastErr
}

// callWithTimeout bounds one venue call by Runtime.CallTimeout. A timeout of
// the call itself counts as the venue being unavailable.
func callWithTimeout[T any](ctx context.Context, e *Engine, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Runtime.CallTimeout)
	defer cancel()
	val, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = exchange.Unavailable(op, err)
	}
	return val, err
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Too many visits!") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "10006") || strings.Contains(msg, "-1003")
}

func newClientOrderID(kind models.OrderKind) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("sdca-%s-%s", strings.ToLower(string(kind)), raw[:20])
}

func (e *Engine) baseAvailable(ctx context.Context) (float64, error) {
	base := e.rules.BaseCoin
	if base == "" {
		return 0, fmt.Errorf("Неизвестна базовая монета %s", e.cfg.Bot.Symbol)
	}
	balances, err := withRetry(ctx, e, "GetBalances", func(ctx context.Context) (map[string]exchange.Balance, error) {
		return e.client.GetBalances(ctx, []string{base})
	})
	if err != nil {
		return 0, err
	}
	return balances[base].Available, nil
}

func (e *Engine) quoteAvailable(ctx context.Context) (float64, error) {
	quote := e.rules.QuoteCoin
	balances, err := withRetry(ctx, e, "GetBalances", func(ctx context.Context) (map[string]exchange.Balance, error) {
		return e.client.GetBalances(ctx, []string{quote})
	})
	if err != nil {
		return 0, err
	}
	return balances[quote].Available, nil
}
