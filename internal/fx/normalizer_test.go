package fx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuoter struct {
	calls atomic.Int32
	rates map[string]decimal.Decimal
	err   error
	delay time.Duration
}

func (f *fakeQuoter) Quote(ctx context.Context, pair string) (decimal.Decimal, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return decimal.Zero, f.err
	}
	v, ok := f.rates[pair]
	if !ok {
		return decimal.Zero, errors.New("no such pair")
	}
	return v, nil
}

func TestGetFxRate_Identity(t *testing.T) {
	q := &fakeQuoter{}
	n := NewNormalizer(q)
	for _, code := range []string{"USD", "EUR", "chf", "XYZ", ""} {
		r := n.GetFxRate(context.Background(), code, code, true)
		assert.Equal(t, SourceIdentity, r.Source, code)
		assert.True(t, r.Value.Valid)
		assert.True(t, r.Value.Decimal.Equal(decimal.NewFromInt(1)), code)
	}
	assert.Zero(t, q.calls.Load(), "identity must not do I/O")
}

func TestGetFxRate_LiveFirst(t *testing.T) {
	q := &fakeQuoter{rates: map[string]decimal.Decimal{"CHFUSD=X": decimal.RequireFromString("1.15")}}
	n := NewNormalizer(q)
	r := n.GetFxRate(context.Background(), "CHF", "USD", true)
	assert.Equal(t, SourceLive, r.Source)
	assert.Equal(t, "1.15", r.Value.Decimal.String())
}

func TestGetFxRate_FallbackOrdering(t *testing.T) {
	failing := &fakeQuoter{err: errors.New("network down")}

	n := NewNormalizer(failing)
	r := n.GetFxRate(context.Background(), "JPY", "USD", true)
	assert.Equal(t, SourceFallback, r.Source)
	assert.Equal(t, "0.0067", r.Value.Decimal.String())

	r = n.GetFxRate(context.Background(), "JPY", "USD", false)
	assert.Equal(t, SourceUnavailable, r.Source)
	assert.False(t, r.Value.Valid)

	// Known to go-money but absent from the static table.
	r = n.GetFxRate(context.Background(), "ZAR", "USD", true)
	assert.Equal(t, SourceUnavailable, r.Source)
	assert.False(t, r.Value.Valid)
}

func TestGetFxRate_CrossRateViaUSD(t *testing.T) {
	n := NewNormalizer(nil, WithFallbackRates(map[string]float64{"EUR": 1.1, "GBP": 1.32}))
	r := n.GetFxRate(context.Background(), "GBP", "EUR", true)
	require.Equal(t, SourceFallback, r.Source)
	assert.Equal(t, "1.2", r.Value.Decimal.String())
}

func TestGetFxRate_RejectsNonPositiveLiveQuote(t *testing.T) {
	q := &fakeQuoter{rates: map[string]decimal.Decimal{"EURUSD=X": decimal.Zero}}
	n := NewNormalizer(q)
	r := n.GetFxRate(context.Background(), "EUR", "USD", true)
	assert.Equal(t, SourceFallback, r.Source)
}

func TestGetFxRate_TimeoutAdvancesChain(t *testing.T) {
	q := &fakeQuoter{delay: time.Second, rates: map[string]decimal.Decimal{"EURUSD=X": decimal.NewFromInt(2)}}
	n := NewNormalizer(q, WithTimeout(20*time.Millisecond))

	start := time.Now()
	r := n.GetFxRate(context.Background(), "EUR", "USD", true)
	assert.Equal(t, SourceFallback, r.Source)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGetFxRate_UnknownCurrency(t *testing.T) {
	q := &fakeQuoter{}
	n := NewNormalizer(q)
	r := n.GetFxRate(context.Background(), "ABC", "USD", true)
	assert.Equal(t, SourceUnavailable, r.Source)
	assert.Zero(t, q.calls.Load())
}

func TestNormalizeToUSD(t *testing.T) {
	n := NewNormalizer(&fakeQuoter{rates: map[string]decimal.Decimal{"EURUSD=X": decimal.RequireFromString("1.1")}})
	ctx := context.Background()
	v := decimal.NewFromInt(100)

	got := n.NormalizeToUSD(ctx, v, "USD")
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.Equal(v))

	got = n.NormalizeToUSD(ctx, v, "")
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.Equal(v))

	got = n.NormalizeToUSD(ctx, v, "eur")
	assert.True(t, got.Valid)
	assert.Equal(t, "110", got.Decimal.String())

	got = n.NormalizeToUSD(ctx, v, "ABC")
	assert.False(t, got.Valid)
}

func TestNormalizeToReference(t *testing.T) {
	n := NewNormalizer(nil, WithReference("chf"))
	assert.Equal(t, "CHF", n.Reference())
	got := n.NormalizeToReference(context.Background(), decimal.NewFromInt(5), "CHF")
	assert.True(t, got.Valid)
	assert.Equal(t, "5", got.Decimal.String())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "$1,234.50", Format(decimal.RequireFromString("1234.5"), "USD"))
	assert.Contains(t, Format(decimal.NewFromInt(1500), "JPY"), "1,500")
	assert.Equal(t, "12.30 ABC", Format(decimal.RequireFromString("12.3"), "abc"))
}

func TestYahooQuoter(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		want    string
		wantErr bool
	}{
		{"regular", `{"chart":{"result":[{"meta":{"regularMarketPrice":0.9125,"previousClose":0.91}}]}}`, 200, "0.9125", false},
		{"previousClose", `{"chart":{"result":[{"meta":{"previousClose":0.91}}]}}`, 200, "0.91", false},
		{"nonPositive", `{"chart":{"result":[{"meta":{"regularMarketPrice":0,"previousClose":-1}}]}}`, 200, "", true},
		{"malformed", `{"chart":`, 200, "", true},
		{"empty", `{"chart":{"result":[]}}`, 200, "", true},
		{"serverError", `oops`, 500, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			q := NewYahooQuoter(server.Client(), server.URL)
			v, err := q.Quote(context.Background(), "USDEUR=X")
			assert.True(t, strings.HasSuffix(path, "/v8/finance/chart/USDEUR=X"), path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}
