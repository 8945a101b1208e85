package symbols

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"ai-market-analyst/internal/shared"

	"gopkg.in/yaml.v3"
)

//go:embed data/symbols.yaml
var defaultTable []byte

// CorrectionEntry maps a vendor code onto a listing symbol.
type CorrectionEntry struct {
	Source  string `yaml:"source"`
	Symbol  string `yaml:"symbol"`
	Suffix  string `yaml:"suffix"`
	Company string `yaml:"company"`
}

// Canonical is the tradable symbol, suffix included.
func (e CorrectionEntry) Canonical() string { return e.Symbol + e.Suffix }

// Listing is provenance metadata for a known-valid symbol.
type Listing struct {
	Symbol   string `yaml:"symbol"`
	Exchange string `yaml:"exchange"`
	Country  string `yaml:"country"`
	Company  string `yaml:"company"`
}

type table struct {
	Corrections []CorrectionEntry `yaml:"corrections"`
	Alternates  map[string]string `yaml:"alternates"`
	Registry    []Listing         `yaml:"registry"`
	Currencies  map[string]string `yaml:"currencies"`
}

// Result is the outcome of CorrectAndValidate.
type Result struct {
	Original     string `json:"original"`
	Corrected    string `json:"corrected"`
	WasCorrected bool   `json:"was_corrected"`
	IsKnownValid bool   `json:"is_known_valid"`
	CompanyName  string `json:"company_name,omitempty"`
	Exchange     string `json:"exchange,omitempty"`
	Country      string `json:"country,omitempty"`
}

// Corrector holds read-only reference data loaded once at startup, so it is
// safe for concurrent use.
type Corrector struct {
	corrections map[string]CorrectionEntry
	alternates  map[string]string
	registry    map[string]Listing
	currencies  map[string]string
}

// NewCorrector builds a Corrector from the compiled-in table.
func NewCorrector() (*Corrector, error) {
	return parse(defaultTable, "embedded symbols table")
}

// LoadCorrector builds a Corrector from a YAML file with the same layout as
// the compiled-in table.
func LoadCorrector(path string) (*Corrector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &shared.FatalError{Msg: "reading symbols table " + path, Err: err}
	}
	return parse(data, path)
}

func parse(data []byte, origin string) (*Corrector, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, &shared.FatalError{Msg: "parsing " + origin, Err: err}
	}

	c := &Corrector{
		corrections: make(map[string]CorrectionEntry, len(t.Corrections)),
		alternates:  make(map[string]string, len(t.Alternates)),
		registry:    make(map[string]Listing, len(t.Registry)),
		currencies:  make(map[string]string, len(t.Currencies)),
	}
	for _, e := range t.Corrections {
		if e.Source == "" || e.Symbol == "" {
			return nil, shared.Fatalf("%s: correction entry %+v lacks source or symbol", origin, e)
		}
		c.corrections[normalize(e.Source)] = e
	}
	for from, to := range t.Alternates {
		c.alternates[normalize(from)] = normalize(to)
	}
	for _, l := range t.Registry {
		c.registry[normalize(l.Symbol)] = l
	}
	for suffix, cur := range t.Currencies {
		if !strings.HasPrefix(suffix, ".") {
			return nil, shared.Fatalf("%s: currency suffix %q must start with a dot", origin, suffix)
		}
		c.currencies[strings.ToUpper(suffix)] = strings.ToUpper(cur)
	}
	return c, nil
}

// normalize upper-cases and drops all whitespace.
func normalize(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// CorrectAndValidate maps raw onto a tradable symbol. The vendor-correction
// table is tried first, then the alternative-format table; otherwise the
// symbol passes through. Absence from the known-valid registry only means
// that provenance metadata is missing.
func (c *Corrector) CorrectAndValidate(raw string) Result {
	norm := normalize(raw)
	res := Result{Original: raw, Corrected: norm}

	if e, ok := c.corrections[norm]; ok {
		res.Corrected = normalize(e.Canonical())
		res.WasCorrected = true
		res.CompanyName = e.Company
	} else if alt, ok := c.alternates[norm]; ok {
		res.Corrected = alt
		res.WasCorrected = true
	}

	if l, ok := c.registry[res.Corrected]; ok {
		res.IsKnownValid = true
		res.Exchange = l.Exchange
		res.Country = l.Country
		if res.CompanyName == "" {
			res.CompanyName = l.Company
		}
	}
	return res
}

// Lookup returns the registry entry for an already-canonical symbol.
func (c *Corrector) Lookup(symbol string) (Listing, bool) {
	l, ok := c.registry[normalize(symbol)]
	return l, ok
}

// CurrencyFor returns the trading currency implied by the exchange suffix.
func (c *Corrector) CurrencyFor(symbol string) string {
	s := normalize(symbol)
	if i := strings.LastIndex(s, "."); i > 0 {
		if cur, ok := c.currencies[s[i:]]; ok {
			return cur
		}
	}
	return "USD"
}

// Size reports how many entries each table holds.
func (c *Corrector) Size() string {
	return fmt.Sprintf("%d corrections, %d alternates, %d known listings",
		len(c.corrections), len(c.alternates), len(c.registry))
}
