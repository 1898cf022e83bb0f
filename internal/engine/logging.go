package engine

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithSymbol(e.cfg.Bot.Symbol).WithField("component", "engine")
}

// formatQty prints a quantity without trailing zeros.
func formatQty(val float64) string {
	return decimal.NewFromFloat(val).Round(12).String()
}
