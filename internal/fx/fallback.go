package fx

import (
	"strings"

	"github.com/shopspring/decimal"
)

// defaultUSDRates is the USD value of one unit of each currency. The numbers
// are not date-stamped and drift from the market, so every use is logged.
var defaultUSDRates = map[string]string{
	"USD": "1",
	"EUR": "1.08",
	"GBP": "1.27",
	"CHF": "1.13",
	"JPY": "0.0067",
	"CNY": "0.138",
	"HKD": "0.128",
	"TWD": "0.031",
	"KRW": "0.00073",
	"INR": "0.012",
	"SGD": "0.74",
	"AUD": "0.66",
	"CAD": "0.73",
	"SEK": "0.095",
	"NOK": "0.093",
	"DKK": "0.145",
	"BRL": "0.18",
	"MXN": "0.055",
}

func buildFallback(overrides map[string]float64) map[string]decimal.Decimal {
	table := make(map[string]decimal.Decimal, len(defaultUSDRates)+len(overrides))
	for cur, v := range defaultUSDRates {
		table[cur] = decimal.RequireFromString(v)
	}
	for cur, v := range overrides {
		if v > 0 {
			table[strings.ToUpper(cur)] = decimal.NewFromFloat(v)
		}
	}
	table["USD"] = decimal.NewFromInt(1)
	return table
}
