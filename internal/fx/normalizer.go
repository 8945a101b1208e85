package fx

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Source tells which tier of the chain produced a rate.
type Source string

const (
	SourceIdentity    Source = "identity"
	SourceLive        Source = "live"
	SourceFallback    Source = "fallback"
	SourceUnavailable Source = "unavailable"
)

// DefaultTimeout bounds one live lookup.
const DefaultTimeout = 3 * time.Second

// Rate is the result of GetFxRate. Value is null exactly when Source is
// SourceUnavailable.
type Rate struct {
	Value  decimal.NullDecimal
	Source Source
}

// Available reports whether a rate was resolved.
func (r Rate) Available() bool { return r.Value.Valid }

func unavailable() Rate { return Rate{Source: SourceUnavailable} }

// Normalizer resolves currency rates through identity, live quote, static
// table, then gives up. It never returns an error: a failed tier advances
// the chain.
type Normalizer struct {
	live      LiveQuoter
	fallback  map[string]decimal.Decimal
	timeout   time.Duration
	reference string
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithFallbackRates replaces entries of the static USD table.
func WithFallbackRates(usdRates map[string]float64) Option {
	return func(n *Normalizer) { n.fallback = buildFallback(usdRates) }
}

// WithTimeout bounds each live lookup.
func WithTimeout(d time.Duration) Option {
	return func(n *Normalizer) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithReference sets the currency NormalizeToReference converts into.
func WithReference(code string) Option {
	return func(n *Normalizer) { n.reference = strings.ToUpper(strings.TrimSpace(code)) }
}

// NewNormalizer builds a Normalizer. A nil live quoter skips the live tier.
func NewNormalizer(live LiveQuoter, opts ...Option) *Normalizer {
	n := &Normalizer{
		live:      live,
		fallback:  buildFallback(nil),
		timeout:   DefaultTimeout,
		reference: "USD",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Reference is the configured reference currency.
func (n *Normalizer) Reference() string { return n.reference }

// GetFxRate returns how many units of to one unit of from is worth.
func (n *Normalizer) GetFxRate(ctx context.Context, from, to string, allowFallback bool) Rate {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	if from == to {
		return Rate{Value: decimal.NewNullDecimal(decimal.NewFromInt(1)), Source: SourceIdentity}
	}
	if money.GetCurrency(from) == nil || money.GetCurrency(to) == nil {
		log.Printf("[fx] unknown currency pair %s/%s", from, to)
		return unavailable()
	}

	if v, ok := n.liveRate(ctx, from, to); ok {
		return Rate{Value: decimal.NewNullDecimal(v), Source: SourceLive}
	}

	if allowFallback {
		usdFrom, okFrom := n.fallback[from]
		usdTo, okTo := n.fallback[to]
		if okFrom && okTo && usdTo.IsPositive() {
			v := usdFrom.Div(usdTo)
			log.Printf("[fx] using static fallback rate %s/%s = %s; value may be stale", from, to, v.String())
			return Rate{Value: decimal.NewNullDecimal(v), Source: SourceFallback}
		}
	}

	log.Printf("[fx] no rate available for %s/%s", from, to)
	return unavailable()
}

func (n *Normalizer) liveRate(ctx context.Context, from, to string) (decimal.Decimal, bool) {
	if n.live == nil {
		return decimal.Zero, false
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	pair := from + to + "=X"
	v, err := n.live.Quote(ctx, pair)
	if err != nil {
		log.Printf("[fx] live quote %s failed: %v", pair, err)
		return decimal.Zero, false
	}
	if !v.IsPositive() {
		log.Printf("[fx] live quote %s rejected: non-positive %s", pair, v.String())
		return decimal.Zero, false
	}
	return v, true
}

// NormalizeTo converts value from currency into target. An empty currency or
// one equal to target returns value unchanged. The result is null when no
// rate could be resolved.
func (n *Normalizer) NormalizeTo(ctx context.Context, value decimal.Decimal, currency, target string) decimal.NullDecimal {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	target = strings.ToUpper(strings.TrimSpace(target))
	if currency == "" || currency == target {
		return decimal.NewNullDecimal(value)
	}
	r := n.GetFxRate(ctx, currency, target, true)
	if !r.Available() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value.Mul(r.Value.Decimal))
}

// NormalizeToUSD converts value into US dollars.
func (n *Normalizer) NormalizeToUSD(ctx context.Context, value decimal.Decimal, currency string) decimal.NullDecimal {
	return n.NormalizeTo(ctx, value, currency, "USD")
}

// NormalizeToReference converts value into the configured reference currency.
func (n *Normalizer) NormalizeToReference(ctx context.Context, value decimal.Decimal, currency string) decimal.NullDecimal {
	return n.NormalizeTo(ctx, value, currency, n.reference)
}

// Format renders an amount with the currency's symbol and minor units.
func Format(value decimal.Decimal, code string) string {
	cur := money.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		return value.StringFixed(2) + " " + strings.ToUpper(code)
	}
	minor := value.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
