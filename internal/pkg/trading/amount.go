package trading

import (
	"github.com/shopspring/decimal"
)

// QuantityForNotional converts a USD notional into a contract quantity string
// truncated to the symbol's quantity precision. Truncation (not rounding)
// keeps the order inside the available margin.
func QuantityForNotional(notionalUSD, price float64, precision int32) string {
	if notionalUSD <= 0 || price <= 0 {
		return "0"
	}
	qty := decimal.NewFromFloat(notionalUSD).Div(decimal.NewFromFloat(price))
	return qty.Truncate(precision).String()
}

// FormatPrice renders a price with the symbol's tick precision.
func FormatPrice(price float64, precision int32) string {
	if price <= 0 {
		return "0"
	}
	return decimal.NewFromFloat(price).Round(precision).String()
}
