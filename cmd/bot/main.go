package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"smartdca/internal/config"
	"smartdca/internal/engine"
	"smartdca/internal/exchange"
	"smartdca/internal/exchange/binance"
	"smartdca/internal/exchange/bybit/rest"
	"smartdca/internal/exchange/paper"
	"smartdca/internal/exchange/stream"
	"smartdca/internal/logger"
	"smartdca/internal/monitoring"
	"smartdca/internal/notify"
)

var venueDefaults = map[string][2]string{
	"binance": {"https://api.binance.com", "wss://stream.binance.com:9443/ws"},
	"bybit":   {"https://api.bybit.com", "wss://stream.bybit.com/v5/public/spot"},
}

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the config file")
	dryRun := pflag.Bool("dry-run", false, "trade against the in-memory paper broker")
	pflag.Parse()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Runtime.DryRun = true
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})
	log.WithFields(cfg.Redacted()).Info("Бот запущен.")

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Telegram.BaseUrl, cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Timeout)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)
	health := monitoring.NewHealthChecker(3 * cfg.Runtime.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var srv *http.Server
	if cfg.Runtime.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              cfg.Runtime.MetricsAddr,
			Handler:           monitoring.Handler(reg, health),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("HTTP сервер метрик завершился с ошибкой.")
			}
		}()
	}

	var wg sync.WaitGroup
	for _, symbol := range cfg.Bot.Symbols {
		symCfg := cfg.ForSymbol(symbol)
		client, err := newClient(ctx, symCfg, log, &wg)
		if err != nil {
			log.WithError(err).Fatal("Не удалось создать клиента биржи.")
		}

		eng := engine.New(symCfg, client, notifier, metrics, health, log)
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := eng.Start(ctx); err != nil {
				log.WithSymbol(symbol).WithError(err).Error("\"Двигатель\" завершился с ошибкой.")
			}
		}(symbol)
	}

	<-sigCh
	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	wg.Wait()

	log.Info("Бот остановлен.")
}

// newClient builds the venue client for one symbol, wrapped with the price
// stream and the paper broker when they are enabled.
func newClient(ctx context.Context, cfg *config.Config, log *logger.Logger, wg *sync.WaitGroup) (exchange.Client, error) {
	ex := cfg.Exchange
	defaults := venueDefaults[ex.Name]
	baseURL := ex.BaseUrl
	if baseURL == "" {
		baseURL = defaults[0]
	}

	var client exchange.Client
	switch ex.Name {
	case "binance":
		client = binance.New(baseURL, ex.ApiKey, ex.Secret, ex.RecvWindow, log)
	case "bybit":
		client = rest.New(baseURL, ex.ApiKey, ex.Secret, ex.AccountType, ex.RecvWindow, log)
	default:
		return nil, fmt.Errorf("неизвестная биржа %q", ex.Name)
	}

	if cfg.Runtime.UseStream {
		decoder, err := stream.ForVenue(ex.Name)
		if err != nil {
			return nil, err
		}
		wsURL := ex.WSUrl
		if wsURL == "" {
			wsURL = defaults[1]
		}
		feed := stream.New(wsURL, cfg.Bot.Symbol, decoder, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = feed.Run(ctx)
		}()
		client = stream.WithFeed(client, feed, cfg.Runtime.PriceMaxAge)
	}

	if cfg.Runtime.DryRun {
		log.WithSymbol(cfg.Bot.Symbol).WithField("quote", cfg.Runtime.PaperQuoteBalance).Warn("Режим dry run: ордера исполняются на бумаге.")
		client = paper.New(client, cfg.Runtime.PaperQuoteBalance, log)
	}
	return client, nil
}
