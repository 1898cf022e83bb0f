package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	return string(data)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func setSecrets(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key-123456")
	t.Setenv("BINANCE_API_SECRET", "secret-123456")
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
}

func TestLoadSampleConfig(t *testing.T) {
	setSecrets(t)
	cfg, err := Load(writeConfig(t, sampleConfig(t)))
	require.NoError(t, err)

	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, "key-123456", cfg.Exchange.ApiKey)
	assert.Equal(t, "secret-123456", cfg.Exchange.Secret)
	assert.Equal(t, []string{"TONUSDT"}, cfg.Bot.Symbols)
	assert.Equal(t, "TONUSDT", cfg.Bot.Symbol)
	assert.Equal(t, "15m", cfg.Bot.LTF)
	assert.Equal(t, "4h", cfg.Bot.HTF)
	assert.Equal(t, 50, cfg.Bot.EMAFast)
	assert.Equal(t, 200, cfg.Bot.EMASlow)
	assert.Equal(t, 5, cfg.Bot.MaxSafetyOrders)
	assert.InDelta(t, 1.15, cfg.Bot.VolMult, 1e-12)
	assert.InDelta(t, 0.001, cfg.Bot.CommissionRate, 1e-12)
	assert.Equal(t, 30*time.Minute, cfg.Bot.Cooldown)
	assert.Equal(t, 30*time.Second, cfg.Runtime.PollInterval)
	assert.Equal(t, 3, cfg.Runtime.Retries)
	assert.InDelta(t, 20.0, cfg.Bot.Budgets["TONUSDT"], 1e-12)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
}

func TestLoadMissingKeysAbort(t *testing.T) {
	setSecrets(t)
	content := strings.Replace(sampleConfig(t), "  stop_atr_mult: 1.80\n", "", 1)
	content = strings.Replace(content, "  vol_mult: 1.15\n", "", 1)

	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "bot.stop_atr_mult")
	assert.Contains(t, err.Error(), "bot.vol_mult")
}

func TestLoadUnsetSecretIsMissing(t *testing.T) {
	setSecrets(t)
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := Load(writeConfig(t, sampleConfig(t)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "exchange.secret")
}

func TestLoadTelegramCredentialsRequiredWhenEnabled(t *testing.T) {
	setSecrets(t)
	t.Setenv("TELEGRAM_TOKEN", "")

	_, err := Load(writeConfig(t, sampleConfig(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}

func TestLoadEnvOverride(t *testing.T) {
	setSecrets(t)
	t.Setenv("SMARTDCA_BOT_BASE_ORDER_QUOTE", "35")
	t.Setenv("SMARTDCA_BOT_SYMBOLS", "tonusdt, ethusdt")

	cfg, err := Load(writeConfig(t, sampleConfig(t)))
	require.NoError(t, err)
	assert.InDelta(t, 35.0, cfg.Bot.BaseOrderQuote, 1e-12)
	assert.Equal(t, []string{"TONUSDT", "ETHUSDT"}, cfg.Bot.Symbols)
}

func TestValidateRejectsInvertedEMAs(t *testing.T) {
	setSecrets(t)
	content := strings.Replace(sampleConfig(t), "ema_fast: 50", "ema_fast: 250", 1)

	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot.ema_fast")
}

func TestForSymbolAppliesBudget(t *testing.T) {
	setSecrets(t)
	cfg, err := Load(writeConfig(t, sampleConfig(t)))
	require.NoError(t, err)
	cfg.Bot.Budgets["ETHUSDT"] = 50

	eth := cfg.ForSymbol("ETHUSDT")
	assert.Equal(t, "ETHUSDT", eth.Bot.Symbol)
	assert.InDelta(t, 50.0, eth.Bot.BaseOrderQuote, 1e-12)

	other := cfg.ForSymbol("BTCUSDT")
	assert.InDelta(t, cfg.Bot.BaseOrderQuote, other.Bot.BaseOrderQuote, 1e-12)
	assert.Equal(t, "TONUSDT", cfg.Bot.Symbol)
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := &Config{
		Exchange: ExchangeConfig{Name: "binance", ApiKey: "abcdefghij", Secret: "topsecret"},
		Telegram: TelegramConfig{Token: "123:tok"},
	}
	red := cfg.Redacted()
	assert.Equal(t, true, red["api_key_set"])
	assert.NotContains(t, red, "api_key")
	for _, v := range red {
		s := fmt.Sprint(v)
		assert.NotContains(t, s, "abcdefghij")
		assert.NotContains(t, s, "topsecret")
		assert.NotContains(t, s, "123:tok")
	}

	empty := (&Config{}).Redacted()
	assert.Equal(t, false, empty["api_key_set"])
}
