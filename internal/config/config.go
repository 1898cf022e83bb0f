package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissing is returned when a required key is absent or empty after
// environment substitution.
var ErrMissing = errors.New("не задан обязательный параметр конфигурации")

const envPrefix = "SMARTDCA"

type Config struct {
	Exchange ExchangeConfig
	Telegram TelegramConfig
	Bot      BotConfig
	Runtime  RuntimeConfig
}

type ExchangeConfig struct {
	Name        string
	BaseUrl     string
	WSUrl       string
	ApiKey      string
	Secret      string
	RecvWindow  int
	AccountType string
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  string
	BaseUrl string
	Timeout time.Duration
}

// BotConfig holds every threshold and multiplier of one strategy instance.
// Percent fields are in percent units (0.3 means 0.3%).
type BotConfig struct {
	Symbol  string
	Symbols []string
	Budgets map[string]float64

	LTF      string
	HTF      string
	LTFLimit int
	HTFLimit int

	EMAFast   int
	EMASlow   int
	EMAEntry  int
	ATRPeriod int
	ADXPeriod int
	BBPeriod  int
	BBMult    float64

	ADXTrend    float64
	ADXMinTrade float64

	BaseOrderQuote      float64
	ReinvestPct         float64
	MaxSafetyOrders     int
	VolMult             float64
	StepATRTrend        float64
	StepATRRange        float64
	MinStepPct          float64
	MaxPortfolioRiskPct float64

	MinTPPct        float64
	TPATRTrend      float64
	TPATRRange      float64
	ArmATRMult      float64
	TrailATRMult    float64
	TrailShare      float64
	MinNetProfitPct float64
	StopATRMult     float64

	CommissionRate float64
	Cooldown       time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type RuntimeConfig struct {
	DryRun            bool
	PaperQuoteBalance float64
	PollInterval      time.Duration
	CallTimeout       time.Duration
	Retries           int
	StatusEvery       time.Duration
	UseStream         bool
	PriceMaxAge       time.Duration
	MetricsAddr       string
	Log               LogConfig
}

var requiredKeys = []string{
	"exchange.name",
	"exchange.api_key",
	"exchange.secret",
	"bot.symbols",
	"bot.ltf",
	"bot.htf",
	"bot.ltf_limit",
	"bot.htf_limit",
	"bot.ema_fast",
	"bot.ema_slow",
	"bot.ema_entry",
	"bot.atr_period",
	"bot.adx_period",
	"bot.bb_period",
	"bot.bb_mult",
	"bot.adx_trend",
	"bot.adx_min_trade",
	"bot.base_order_quote",
	"bot.max_safety_orders",
	"bot.vol_mult",
	"bot.step_atr_trend",
	"bot.step_atr_range",
	"bot.min_step_pct",
	"bot.max_portfolio_risk_pct",
	"bot.min_tp_pct",
	"bot.tp_atr_trend",
	"bot.tp_atr_range",
	"bot.arm_atr_mult",
	"bot.trail_atr_mult",
	"bot.trail_share",
	"bot.min_net_profit_pct",
	"bot.stop_atr_mult",
	"bot.commission_rate",
	"bot.cooldown",
	"runtime.poll_interval",
}

// Load reads the config file at path (optional when every key comes from the
// environment), an optional .env file next to the working directory, and
// validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("Не удалось прочитать конфигурацию %s: %w", path, err)
			}
		}
	}

	if err := checkRequired(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.Exchange = ExchangeConfig{
		Name:        strings.ToLower(envSub(v, "exchange.name")),
		BaseUrl:     envSub(v, "exchange.base_url"),
		WSUrl:       envSub(v, "exchange.ws_url"),
		ApiKey:      envSub(v, "exchange.api_key"),
		Secret:      envSub(v, "exchange.secret"),
		RecvWindow:  v.GetInt("exchange.recv_window"),
		AccountType: envSub(v, "exchange.account_type"),
	}

	cfg.Telegram = TelegramConfig{
		Enabled: v.GetBool("telegram.enabled"),
		Token:   envSub(v, "telegram.token"),
		ChatID:  envSub(v, "telegram.chat_id"),
		BaseUrl: envSub(v, "telegram.base_url"),
		Timeout: v.GetDuration("telegram.timeout"),
	}

	cfg.Bot = BotConfig{
		Symbols:             normalizeSymbols(v.GetStringSlice("bot.symbols")),
		Budgets:             budgets(v),
		LTF:                 v.GetString("bot.ltf"),
		HTF:                 v.GetString("bot.htf"),
		LTFLimit:            v.GetInt("bot.ltf_limit"),
		HTFLimit:            v.GetInt("bot.htf_limit"),
		EMAFast:             v.GetInt("bot.ema_fast"),
		EMASlow:             v.GetInt("bot.ema_slow"),
		EMAEntry:            v.GetInt("bot.ema_entry"),
		ATRPeriod:           v.GetInt("bot.atr_period"),
		ADXPeriod:           v.GetInt("bot.adx_period"),
		BBPeriod:            v.GetInt("bot.bb_period"),
		BBMult:              v.GetFloat64("bot.bb_mult"),
		ADXTrend:            v.GetFloat64("bot.adx_trend"),
		ADXMinTrade:         v.GetFloat64("bot.adx_min_trade"),
		BaseOrderQuote:      v.GetFloat64("bot.base_order_quote"),
		ReinvestPct:         v.GetFloat64("bot.reinvest_pct"),
		MaxSafetyOrders:     v.GetInt("bot.max_safety_orders"),
		VolMult:             v.GetFloat64("bot.vol_mult"),
		StepATRTrend:        v.GetFloat64("bot.step_atr_trend"),
		StepATRRange:        v.GetFloat64("bot.step_atr_range"),
		MinStepPct:          v.GetFloat64("bot.min_step_pct"),
		MaxPortfolioRiskPct: v.GetFloat64("bot.max_portfolio_risk_pct"),
		MinTPPct:            v.GetFloat64("bot.min_tp_pct"),
		TPATRTrend:          v.GetFloat64("bot.tp_atr_trend"),
		TPATRRange:          v.GetFloat64("bot.tp_atr_range"),
		ArmATRMult:          v.GetFloat64("bot.arm_atr_mult"),
		TrailATRMult:        v.GetFloat64("bot.trail_atr_mult"),
		TrailShare:          v.GetFloat64("bot.trail_share"),
		MinNetProfitPct:     v.GetFloat64("bot.min_net_profit_pct"),
		StopATRMult:         v.GetFloat64("bot.stop_atr_mult"),
		CommissionRate:      v.GetFloat64("bot.commission_rate"),
		Cooldown:            v.GetDuration("bot.cooldown"),
	}
	if len(cfg.Bot.Symbols) > 0 {
		cfg.Bot.Symbol = cfg.Bot.Symbols[0]
	}

	cfg.Runtime = RuntimeConfig{
		DryRun:            v.GetBool("runtime.dry_run"),
		PaperQuoteBalance: v.GetFloat64("runtime.paper_quote_balance"),
		PollInterval:      v.GetDuration("runtime.poll_interval"),
		CallTimeout:       v.GetDuration("runtime.call_timeout"),
		Retries:           v.GetInt("runtime.retries"),
		StatusEvery:       v.GetDuration("runtime.status_every"),
		UseStream:         v.GetBool("runtime.use_stream"),
		PriceMaxAge:       v.GetDuration("runtime.price_max_age"),
		MetricsAddr:       v.GetString("runtime.metrics_addr"),
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults only covers plumbing; trading parameters have no defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.recv_window", 5000)
	v.SetDefault("exchange.account_type", "UNIFIED")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", 5*time.Second)
	v.SetDefault("bot.reinvest_pct", 0.0)
	v.SetDefault("runtime.paper_quote_balance", 1000.0)
	v.SetDefault("runtime.call_timeout", 10*time.Second)
	v.SetDefault("runtime.retries", 3)
	v.SetDefault("runtime.status_every", 5*time.Minute)
	v.SetDefault("runtime.price_max_age", 5*time.Second)
	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 14)
}

func checkRequired(v *viper.Viper) error {
	var missing []string
	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			missing = append(missing, key)
			continue
		}
		if key == "bot.symbols" {
			if len(normalizeSymbols(v.GetStringSlice(key))) == 0 {
				missing = append(missing, key)
			}
			continue
		}
		if strings.TrimSpace(envSub(v, key)) == "" {
			missing = append(missing, key)
		}
	}
	if v.GetBool("telegram.enabled") {
		for _, key := range []string{"telegram.token", "telegram.chat_id"} {
			if strings.TrimSpace(envSub(v, key)) == "" {
				missing = append(missing, key)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	b := c.Bot

	switch c.Exchange.Name {
	case "binance", "bybit":
	default:
		errs = append(errs, fmt.Errorf("exchange.name: неизвестная биржа %q", c.Exchange.Name))
	}
	if len(b.Symbols) == 0 {
		errs = append(errs, fmt.Errorf("%w: bot.symbols", ErrMissing))
	}
	for name, period := range map[string]int{
		"bot.ema_fast":   b.EMAFast,
		"bot.ema_slow":   b.EMASlow,
		"bot.ema_entry":  b.EMAEntry,
		"bot.atr_period": b.ATRPeriod,
		"bot.adx_period": b.ADXPeriod,
		"bot.bb_period":  b.BBPeriod,
		"bot.ltf_limit":  b.LTFLimit,
		"bot.htf_limit":  b.HTFLimit,
	} {
		if period <= 0 {
			errs = append(errs, fmt.Errorf("%s должен быть больше нуля", name))
		}
	}
	if b.EMAFast >= b.EMASlow {
		errs = append(errs, fmt.Errorf("bot.ema_fast (%d) должен быть меньше bot.ema_slow (%d)", b.EMAFast, b.EMASlow))
	}
	if b.HTFLimit < b.EMASlow {
		errs = append(errs, fmt.Errorf("bot.htf_limit (%d) меньше bot.ema_slow (%d)", b.HTFLimit, b.EMASlow))
	}
	for name, val := range map[string]float64{
		"bot.bb_mult":          b.BBMult,
		"bot.base_order_quote": b.BaseOrderQuote,
		"bot.step_atr_trend":   b.StepATRTrend,
		"bot.step_atr_range":   b.StepATRRange,
		"bot.tp_atr_trend":     b.TPATRTrend,
		"bot.tp_atr_range":     b.TPATRRange,
		"bot.trail_atr_mult":   b.TrailATRMult,
		"bot.stop_atr_mult":    b.StopATRMult,
	} {
		if val <= 0 {
			errs = append(errs, fmt.Errorf("%s должен быть больше нуля", name))
		}
	}
	if b.VolMult < 1 {
		errs = append(errs, fmt.Errorf("bot.vol_mult должен быть не меньше 1"))
	}
	if b.MaxSafetyOrders < 0 {
		errs = append(errs, fmt.Errorf("bot.max_safety_orders не может быть отрицательным"))
	}
	for name, val := range map[string]float64{
		"bot.min_step_pct":           b.MinStepPct,
		"bot.max_portfolio_risk_pct": b.MaxPortfolioRiskPct,
		"bot.min_tp_pct":             b.MinTPPct,
		"bot.min_net_profit_pct":     b.MinNetProfitPct,
		"bot.reinvest_pct":           b.ReinvestPct,
	} {
		if val < 0 || val > 100 {
			errs = append(errs, fmt.Errorf("%s вне диапазона [0, 100]: %v", name, val))
		}
	}
	if b.MaxPortfolioRiskPct == 0 {
		errs = append(errs, fmt.Errorf("bot.max_portfolio_risk_pct должен быть больше нуля"))
	}
	if b.TrailShare < 0 || b.TrailShare > 1 {
		errs = append(errs, fmt.Errorf("bot.trail_share вне диапазона [0, 1]: %v", b.TrailShare))
	}
	if b.ArmATRMult < 0 || b.ADXMinTrade < 0 || b.ADXTrend < 0 {
		errs = append(errs, fmt.Errorf("bot.arm_atr_mult, bot.adx_trend и bot.adx_min_trade не могут быть отрицательными"))
	}
	if b.CommissionRate < 0 || b.CommissionRate >= 0.01 {
		errs = append(errs, fmt.Errorf("bot.commission_rate вне диапазона [0, 0.01): %v", b.CommissionRate))
	}
	if b.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("bot.cooldown не может быть отрицательным"))
	}
	for symbol, budget := range b.Budgets {
		if budget <= 0 {
			errs = append(errs, fmt.Errorf("bot.budgets.%s должен быть больше нуля", symbol))
		}
	}
	if c.Runtime.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("runtime.poll_interval должен быть больше нуля"))
	}
	if c.Runtime.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("runtime.call_timeout должен быть больше нуля"))
	}
	if c.Runtime.Retries < 1 {
		errs = append(errs, fmt.Errorf("runtime.retries должен быть не меньше 1"))
	}
	if c.Runtime.DryRun && c.Runtime.PaperQuoteBalance <= 0 {
		errs = append(errs, fmt.Errorf("runtime.paper_quote_balance должен быть больше нуля в режиме dry_run"))
	}

	return errors.Join(errs...)
}

// ForSymbol returns an independent copy of the config bound to one symbol.
func (c *Config) ForSymbol(symbol string) *Config {
	out := *c
	out.Bot.Symbol = symbol
	out.Bot.Symbols = []string{symbol}
	out.Bot.Budgets = nil
	if budget, ok := c.Bot.Budgets[symbol]; ok {
		out.Bot.BaseOrderQuote = budget
	}
	return &out
}

// Redacted is safe to log.
func (c *Config) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"exchange":      c.Exchange.Name,
		"base_url":      c.Exchange.BaseUrl,
		"api_key_set":   c.Exchange.ApiKey != "",
		"symbols":       strings.Join(c.Bot.Symbols, ","),
		"ltf":           c.Bot.LTF,
		"htf":           c.Bot.HTF,
		"base_order":    c.Bot.BaseOrderQuote,
		"safety_orders": c.Bot.MaxSafetyOrders,
		"dry_run":       c.Runtime.DryRun,
		"poll_interval": c.Runtime.PollInterval.String(),
		"telegram":      c.Telegram.Enabled,
	}
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	return envPattern.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}

func normalizeSymbols(raw []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			symbol := strings.ToUpper(strings.TrimSpace(part))
			if symbol == "" || seen[symbol] {
				continue
			}
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	return out
}

func budgets(v *viper.Viper) map[string]float64 {
	raw := v.GetStringMap("bot.budgets")
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k := range raw {
		out[strings.ToUpper(k)] = v.GetFloat64("bot.budgets." + k)
	}
	return out
}
