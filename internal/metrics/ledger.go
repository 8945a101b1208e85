package metrics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-market-analyst/internal/shared"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageRecord is one model call as seen by the ledger.
type UsageRecord struct {
	Timestamp        time.Time
	AgentName        string
	ModelName        string
	PromptTokens     int
	CompletionTokens int
	Cost             decimal.Decimal
}

// TotalTokens is prompt plus completion tokens.
func (r UsageRecord) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// AgentUsage aggregates the records of one agent.
type AgentUsage struct {
	AgentName        string
	Calls            int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             decimal.Decimal
	Records          []UsageRecord
}

func (a *AgentUsage) add(r UsageRecord) {
	a.Calls++
	a.PromptTokens += r.PromptTokens
	a.CompletionTokens += r.CompletionTokens
	a.TotalTokens += r.TotalTokens()
	a.Cost = a.Cost.Add(r.Cost)
	a.Records = append(a.Records, r)
}

// AgentStats is the per-agent part of Stats.
type AgentStats struct {
	Calls            int             `json:"calls"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
}

// Stats is a snapshot of the current session.
type Stats struct {
	SessionID             string                `json:"session_id"`
	StartedAt             time.Time             `json:"started_at"`
	TotalCalls            int                   `json:"total_calls"`
	TotalPromptTokens     int                   `json:"total_prompt_tokens"`
	TotalCompletionTokens int                   `json:"total_completion_tokens"`
	TotalTokens           int                   `json:"total_tokens"`
	TotalCostUSD          decimal.Decimal       `json:"total_cost_usd"`
	Agents                map[string]AgentStats `json:"agents"`
}

// Sink persists records beyond the life of the process.
type Sink interface {
	Record(ctx context.Context, m ExecutionMetric) error
}

// Ledger accumulates token usage and cost per agent for one session. It is
// built once per process and passed to every agent call site.
type Ledger struct {
	mu        sync.Mutex
	prices    *PriceTable
	sink      Sink
	now       func() time.Time
	sessionID string
	startedAt time.Time
	agents    map[string]*AgentUsage
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithSink forwards every record to s. Sink failures are logged and dropped.
func WithSink(s Sink) LedgerOption {
	return func(l *Ledger) { l.sink = s }
}

// WithLedgerClock overrides time.Now.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger. A nil table uses DefaultPricing.
func NewLedger(prices *PriceTable, opts ...LedgerOption) *Ledger {
	if prices == nil {
		prices = NewPriceTable(nil)
	}
	l := &Ledger{prices: prices, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.resetLocked()
	return l
}

func (l *Ledger) resetLocked() {
	l.sessionID = uuid.NewString()
	l.startedAt = l.now().UTC()
	l.agents = make(map[string]*AgentUsage)
}

// Prices is the table records are priced with.
func (l *Ledger) Prices() *PriceTable { return l.prices }

// SessionID identifies the current session. It changes on Reset.
func (l *Ledger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// RecordUsage appends a record for agentName and returns it.
func (l *Ledger) RecordUsage(agentName, modelName string, promptTokens, completionTokens int) UsageRecord {
	return l.record(context.Background(), agentName, modelName, promptTokens, completionTokens, 0)
}

// RecordMeta records the usage carried by an agent execution. Executions
// whose provider reported no token counts still count as a call.
func (l *Ledger) RecordMeta(ctx context.Context, meta shared.AgentMeta) UsageRecord {
	return l.record(ctx, meta.AgentName, meta.Usage.Model, meta.Usage.PromptTokens, meta.Usage.CompletionTokens, meta.Latency)
}

func (l *Ledger) record(ctx context.Context, agentName, modelName string, promptTokens, completionTokens int, latency time.Duration) UsageRecord {
	if promptTokens < 0 || completionTokens < 0 {
		log.Printf("[ledger] negative token count for %s (%d/%d), clamping to zero", agentName, promptTokens, completionTokens)
		promptTokens = max(promptTokens, 0)
		completionTokens = max(completionTokens, 0)
	}

	r := UsageRecord{
		AgentName:        agentName,
		ModelName:        modelName,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             l.prices.Cost(modelName, promptTokens, completionTokens),
	}

	l.mu.Lock()
	r.Timestamp = l.now().UTC()
	agg, ok := l.agents[agentName]
	if !ok {
		agg = &AgentUsage{AgentName: agentName}
		l.agents[agentName] = agg
	}
	agg.add(r)
	session := l.sessionID
	l.mu.Unlock()

	if l.sink != nil {
		m := ExecutionMetric{
			SessionID:        session,
			AgentName:        r.AgentName,
			Model:            r.ModelName,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			Cost:             r.Cost,
			LatencyMS:        latency.Milliseconds(),
			Timestamp:        r.Timestamp,
		}
		if err := l.sink.Record(ctx, m); err != nil {
			log.Printf("[ledger] failed to persist usage for %s: %v", agentName, err)
		}
	}
	return r
}

// TotalStats returns grand totals and the per-agent breakdown.
func (l *Ledger) TotalStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		SessionID:    l.sessionID,
		StartedAt:    l.startedAt,
		TotalCostUSD: decimal.Zero,
		Agents:       make(map[string]AgentStats, len(l.agents)),
	}
	for name, a := range l.agents {
		s.Agents[name] = AgentStats{
			Calls:            a.Calls,
			PromptTokens:     a.PromptTokens,
			CompletionTokens: a.CompletionTokens,
			TotalTokens:      a.TotalTokens,
			CostUSD:          a.Cost,
		}
		s.TotalCalls += a.Calls
		s.TotalPromptTokens += a.PromptTokens
		s.TotalCompletionTokens += a.CompletionTokens
		s.TotalTokens += a.TotalTokens
		s.TotalCostUSD = s.TotalCostUSD.Add(a.Cost)
	}
	return s
}

// Agent returns a copy of one agent's aggregate.
func (l *Ledger) Agent(name string) (AgentUsage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[name]
	if !ok {
		return AgentUsage{}, false
	}
	out := *a
	out.Records = append([]UsageRecord(nil), a.Records...)
	return out, true
}

// Reset clears all state and starts a new session.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

// Summary renders the session as a plain-text table.
func (l *Ledger) Summary() string {
	s := l.TotalStats()

	names := make([]string, 0, len(s.Agents))
	for name := range s.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (started %s)\n", s.SessionID, humanize.Time(s.StartedAt))
	fmt.Fprintf(&b, "%-24s %6s %12s %12s %12s %10s\n", "AGENT", "CALLS", "PROMPT", "COMPLETION", "TOTAL", "COST")
	for _, name := range names {
		a := s.Agents[name]
		fmt.Fprintf(&b, "%-24s %6d %12s %12s %12s %10s\n", name, a.Calls,
			humanize.Comma(int64(a.PromptTokens)),
			humanize.Comma(int64(a.CompletionTokens)),
			humanize.Comma(int64(a.TotalTokens)),
			"$"+a.CostUSD.StringFixed(4))
	}
	fmt.Fprintf(&b, "%-24s %6d %12s %12s %12s %10s\n", "TOTAL", s.TotalCalls,
		humanize.Comma(int64(s.TotalPromptTokens)),
		humanize.Comma(int64(s.TotalCompletionTokens)),
		humanize.Comma(int64(s.TotalTokens)),
		"$"+s.TotalCostUSD.StringFixed(4))
	return b.String()
}
