package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"ai-market-analyst/internal/shared"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// DefaultYahooURL is the chart API root.
const DefaultYahooURL = "https://query1.finance.yahoo.com"

// quotePaths are tried in order; the first positive number wins.
var quotePaths = []string{
	"$.chart.result[0].meta.regularMarketPrice",
	"$.chart.result[0].meta.previousClose",
	"$.chart.result[0].meta.chartPreviousClose",
}

// LiveQuoter returns the last traded value for a synthetic pair such as
// "EURUSD=X".
type LiveQuoter interface {
	Quote(ctx context.Context, pair string) (decimal.Decimal, error)
}

// YahooQuoter reads pair quotes from the Yahoo Finance chart endpoint.
type YahooQuoter struct {
	client  *http.Client
	baseURL string
}

// NewYahooQuoter builds a quoter. An empty baseURL selects DefaultYahooURL.
func NewYahooQuoter(client *http.Client, baseURL string) *YahooQuoter {
	if client == nil {
		client = new(http.Client)
	}
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	return &YahooQuoter{client: client, baseURL: baseURL}
}

func (y *YahooQuoter) Quote(ctx context.Context, pair string) (decimal.Decimal, error) {
	addr := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", y.baseURL, url.PathEscape(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ai-market-analyst)")
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error fetching %q: %w", pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusTooManyRequests {
			return decimal.Zero, &shared.ThrottlingError{Provider: "yahoo", Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, body)}
		}
		return decimal.Zero, fmt.Errorf("error fetching %q: status=%d body=%s", pair, resp.StatusCode, body)
	}

	var jobj any
	if err := json.NewDecoder(resp.Body).Decode(&jobj); err != nil {
		return decimal.Zero, &shared.ValidationError{Field: pair + " quote", Reason: "malformed JSON: " + err.Error()}
	}

	for _, path := range quotePaths {
		v, ok := numberAt(jobj, path)
		if ok && v.IsPositive() {
			return v, nil
		}
	}
	return decimal.Zero, &shared.ValidationError{Field: pair + " quote", Reason: "no positive price in response"}
}

func numberAt(jobj any, path string) (decimal.Decimal, bool) {
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return decimal.Zero, false
	}
	// jsonpath may wrap a single answer in a list.
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return decimal.Zero, false
		}
		jval = jlist[0]
	}
	f, ok := jval.(float64)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
