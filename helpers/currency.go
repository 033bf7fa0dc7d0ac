package helpers

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUSD formats an amount as US dollars with thousand separators, e.g. $1,234.50
func FormatUSD(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	str := amount.Abs().StringFixed(2)

	whole, frac, _ := strings.Cut(str, ".")
	length := len(whole)

	// Build the formatted string with commas as thousand separators
	var b strings.Builder
	for i, digit := range whole {
		if i > 0 && (length-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	if negative {
		return "-$" + b.String() + "." + frac
	}
	return "$" + b.String() + "." + frac
}
