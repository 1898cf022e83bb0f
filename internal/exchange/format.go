package exchange

import (
	"github.com/shopspring/decimal"
)

// FormatWithStep floors value to a multiple of step and prints it with the
// step's number of decimals, so 0.2049 with step 0.001 becomes "0.204".
func FormatWithStep(value, step float64) string {
	v := decimal.NewFromFloat(value)
	if step <= 0 {
		return v.String()
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Floor().Mul(s).StringFixed(stepDecimals(s))
}

func stepDecimals(step decimal.Decimal) int32 {
	if exp := step.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

// ParseFloatOrZero treats an empty venue field as zero.
func ParseFloatOrZero(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
