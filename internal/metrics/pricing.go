package metrics

import (
	"sort"
	"strings"

	"ai-market-analyst/internal/config"

	"github.com/shopspring/decimal"
)

// ModelPricing holds per-million-token prices for a model family in USD.
type ModelPricing struct {
	PromptPerMTok     decimal.Decimal
	CompletionPerMTok decimal.Decimal
}

func pricing(prompt, completion string) ModelPricing {
	return ModelPricing{
		PromptPerMTok:     decimal.RequireFromString(prompt),
		CompletionPerMTok: decimal.RequireFromString(completion),
	}
}

// DefaultPricing maps model name prefixes to their pricing. Lookups pick the
// longest prefix that matches, so "gemini-2.0-flash-lite" is never priced as
// "gemini-2.0-flash".
var DefaultPricing = map[string]ModelPricing{
	"gemini-2.5-pro":        pricing("1.25", "10.00"),
	"gemini-2.5-flash":      pricing("0.30", "2.50"),
	"gemini-2.5-flash-lite": pricing("0.10", "0.40"),
	"gemini-2.0-flash":      pricing("0.10", "0.40"),
	"gemini-2.0-flash-lite": pricing("0.075", "0.30"),
	"gemini-1.5-pro":        pricing("1.25", "5.00"),
	"gemini-1.5-flash":      pricing("0.075", "0.30"),
	"text-embedding":        pricing("0.025", "0"),
	"gpt-4o":                pricing("2.50", "10.00"),
	"gpt-4o-mini":           pricing("0.15", "0.60"),
	"gpt-4.1":               pricing("2.00", "8.00"),
	"gpt-4.1-mini":          pricing("0.40", "1.60"),
	"llama-3.3-70b":         pricing("0.59", "0.79"),
	"llama-3.1-8b":          pricing("0.05", "0.08"),
}

// DefaultTier prices models that match no prefix.
var DefaultTier = pricing("0.50", "1.50")

var million = decimal.NewFromInt(1_000_000)

// PriceTable resolves a model name to its pricing.
type PriceTable struct {
	prices   map[string]ModelPricing
	prefixes []string // longest first
	fallback ModelPricing
}

// NewPriceTable builds a table from DefaultPricing plus overrides. An override
// for an unknown prefix adds it; a partial override keeps the other price.
func NewPriceTable(overrides map[string]config.ModelPriceOverride) *PriceTable {
	prices := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		prices[k] = v
	}
	for name, o := range overrides {
		key := normalizeModelName(name)
		p, ok := prices[key]
		if !ok {
			p = DefaultTier
		}
		if o.PromptPerMTok != nil {
			p.PromptPerMTok = decimal.NewFromFloat(*o.PromptPerMTok)
		}
		if o.CompletionPerMTok != nil {
			p.CompletionPerMTok = decimal.NewFromFloat(*o.CompletionPerMTok)
		}
		prices[key] = p
	}

	prefixes := make([]string, 0, len(prices))
	for k := range prices {
		prefixes = append(prefixes, k)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	return &PriceTable{prices: prices, prefixes: prefixes, fallback: DefaultTier}
}

// normalizeModelName strips the provider path some SDKs prepend,
// e.g. "models/gemini-2.0-flash" -> "gemini-2.0-flash".
func normalizeModelName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Lookup returns the pricing for model and the prefix that matched. An empty
// prefix means the default tier was used.
func (t *PriceTable) Lookup(model string) (ModelPricing, string) {
	name := normalizeModelName(model)
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(name, prefix) {
			return t.prices[prefix], prefix
		}
	}
	return t.fallback, ""
}

// Cost prices one call.
func (t *PriceTable) Cost(model string, promptTokens, completionTokens int) decimal.Decimal {
	p, _ := t.Lookup(model)
	prompt := decimal.NewFromInt(int64(promptTokens)).Mul(p.PromptPerMTok)
	completion := decimal.NewFromInt(int64(completionTokens)).Mul(p.CompletionPerMTok)
	return prompt.Add(completion).Div(million)
}
