// Package stream keeps the last traded price from a venue's public websocket
// ticker stream and can serve it in place of a REST price lookup.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"smartdca/internal/logger"
	"smartdca/internal/models"
)

func New(url, symbol string, decoder Decoder, log *logger.Logger) *Feed {
	return &Feed{
		url:          url,
		symbol:       symbol,
		decoder:      decoder,
		log:          log,
		dialer:       websocket.DefaultDialer,
		now:          time.Now,
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// Run reads the stream until ctx is done, reconnecting with exponential backoff.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.reconnectMin

	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = f.reconnectMin
		}

		f.logEntry().WithError(err).WithField("backoff", backoff.String()).Warn("Ошибка чтения WS, переподключение.")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = f.nextBackoff(backoff)
	}
}

// Last returns the most recent streamed ticker, ok is false before the first one.
func (f *Feed) Last() (models.Ticker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last, f.last.LastPrice > 0
}

func (f *Feed) session(ctx context.Context) (bool, error) {
	f.logEntry().WithField("url", f.url).Info("Подключение к WS.")

	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("Не удалось подключиться к WS: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(2 << 20)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(f.decoder.Subscribe(f.symbol)); err != nil {
		return false, fmt.Errorf("Не удалось подписаться на WS: %w", err)
	}

	f.logEntry().Info("WS соединение установлено.")
	return true, f.readLoop(conn)
}

func (f *Feed) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ticker, ok, err := f.decoder.Decode(data)
		if err != nil {
			f.logEntry().WithError(err).Warn("Не удалось разобрать WS сообщение.")
			continue
		}
		if !ok || ticker.LastPrice <= 0 {
			continue
		}
		// freshness is judged on local receive time, not venue time
		ticker.Timestamp = f.now()

		f.mu.Lock()
		f.last = ticker
		f.mu.Unlock()
	}
}

func (f *Feed) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > f.reconnectMax {
		return f.reconnectMax
	}
	return next
}

func (f *Feed) logEntry() *logrus.Entry {
	return f.log.WithComponent(f.decoder.Name() + "_ws").WithField("symbol", f.symbol)
}
