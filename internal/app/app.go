package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"ai-market-analyst/internal/fx"
	"ai-market-analyst/internal/llm"
	"ai-market-analyst/internal/memory"
	"ai-market-analyst/internal/metrics"
	"ai-market-analyst/internal/prompts"
	"ai-market-analyst/internal/report"
	"ai-market-analyst/internal/shared"
	"ai-market-analyst/internal/storage"
	"ai-market-analyst/internal/symbols"

	"github.com/shopspring/decimal"
)

// ReportNotifier delivers a finished report.
type ReportNotifier interface {
	SendReport(ctx context.Context, r report.Report, usage *metrics.Stats) error
}

// Deps are the components an App is built from. Every nil field disables
// the part of the App that needs it.
type Deps struct {
	Limiter *llm.RateLimiter
	Invoker *llm.RetryInvoker

	QuickThink      llm.TextGenerator
	DeepThink       llm.TextGenerator
	CrossValidation llm.TextGenerator

	Memory   *memory.Manager
	Symbols  *symbols.Corrector
	FX       *fx.Normalizer
	Ledger   *metrics.Ledger
	Usage    *metrics.Store
	Prompts  *prompts.Registry
	Results  *storage.AnalysisStore
	Notifier ReportNotifier

	ReferenceCurrency string
	DataDir           string
	Now               func() time.Time
}

// App holds the application's dependencies and exposes the agent-support
// operations the debate pipeline calls.
type App struct {
	Deps
	closers []func() error
}

// New creates an App from explicitly constructed components.
func New(d Deps) *App {
	if d.Invoker == nil {
		d.Invoker = llm.NewRetryInvoker(d.Limiter)
	}
	if d.Ledger == nil {
		d.Ledger = metrics.NewLedger(nil)
	}
	if d.Memory == nil {
		d.Memory = memory.NewManager(nil, nil, nil)
	}
	if d.ReferenceCurrency == "" {
		d.ReferenceCurrency = "USD"
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &App{Deps: d}
}

// Tier selects the model an agent runs on.
type Tier int

const (
	QuickThink Tier = iota
	DeepThink
)

// AgentResult is the output of one agent call.
type AgentResult struct {
	Text          string
	PromptVersion string
	PromptOrigin  prompts.Origin
	Meta          shared.AgentMeta
}

// agentName turns a display name into the ledger key, "Market Analyst" -> "MarketAnalyst".
func agentName(def prompts.Definition) string {
	if def.DisplayName == "" {
		return def.Key
	}
	return strings.ReplaceAll(def.DisplayName, " ", "")
}

// tierFor runs managers on the deep-think model.
func tierFor(def prompts.Definition) Tier {
	if def.Category == "manager" {
		return DeepThink
	}
	return QuickThink
}

func (a *App) generator(t Tier) llm.TextGenerator {
	if t == DeepThink && a.DeepThink != nil {
		return a.DeepThink
	}
	return a.QuickThink
}

// RunAgent renders the prompt for agentKey, runs it through the rate
// limiter and retry policy, and records the usage.
func (a *App) RunAgent(ctx context.Context, agentKey string, data prompts.Data) (AgentResult, error) {
	if a.Prompts == nil {
		return AgentResult{}, shared.Fatalf("prompt registry not configured")
	}
	def, err := a.Prompts.Get(agentKey)
	if err != nil {
		return AgentResult{}, err
	}
	prompt, err := a.Prompts.Render(agentKey, data)
	if err != nil {
		return AgentResult{}, err
	}

	gen := a.generator(tierFor(def.Definition))
	if gen == nil {
		return AgentResult{}, &shared.UnavailableError{Resource: "text generator", Err: fmt.Errorf("no model configured for %s", def.Key)}
	}
	return a.run(ctx, agentName(def.Definition), def, gen, prompt)
}

func (a *App) run(ctx context.Context, name string, def prompts.Resolved, gen llm.TextGenerator, prompt string) (AgentResult, error) {
	start := time.Now()
	resp, err := llm.Invoke(ctx, a.Invoker, name, func(ctx context.Context) (llm.ContentResponse, error) {
		return gen.GenerateContent(ctx, prompt)
	})
	if err != nil {
		return AgentResult{}, fmt.Errorf("agent %s: %w", name, err)
	}

	meta := shared.AgentMeta{AgentName: name, Usage: resp.Usage, Latency: time.Since(start)}
	a.Ledger.RecordMeta(ctx, meta)

	return AgentResult{
		Text:          resp.Content,
		PromptVersion: def.Version,
		PromptOrigin:  def.Origin,
		Meta:          meta,
	}, nil
}

// CrossCheck compares the primary agent's decision with a second provider.
type CrossCheck struct {
	Primary   report.Decision
	Secondary report.Decision
	Agree     bool
	Result    AgentResult
}

// CrossValidate runs agentKey again on the cross-validation provider. It
// returns nil when cross-validation is disabled.
func (a *App) CrossValidate(ctx context.Context, agentKey string, data prompts.Data, primary AgentResult) (*CrossCheck, error) {
	if a.CrossValidation == nil || a.Prompts == nil {
		return nil, nil
	}
	def, err := a.Prompts.Get(agentKey)
	if err != nil {
		return nil, err
	}
	prompt, err := a.Prompts.Render(agentKey, data)
	if err != nil {
		return nil, err
	}
	res, err := a.run(ctx, agentName(def.Definition)+"CrossCheck", def, a.CrossValidation, prompt)
	if err != nil {
		return nil, err
	}

	cc := &CrossCheck{
		Primary:   report.ExtractDecision(primary.Text),
		Secondary: report.ExtractDecision(res.Text),
		Result:    res,
	}
	cc.Agree = cc.Primary == cc.Secondary
	if !cc.Agree {
		log.Printf("[app] cross-validation disagrees on %s: %s vs %s", agentKey, cc.Primary, cc.Secondary)
	}
	return cc, nil
}

// Subject is a corrected ticker with its trading currency.
type Subject struct {
	symbols.Result
	Currency string
	// ToReference converts one unit of Currency into the reference currency.
	ToReference fx.Rate
	Reference   string
}

// Symbol is the corrected ticker.
func (s Subject) Symbol() string { return s.Corrected }

// PrepareSubject corrects the raw ticker and resolves its currency.
func (a *App) PrepareSubject(ctx context.Context, raw string) (Subject, error) {
	if a.Symbols == nil {
		return Subject{}, shared.Fatalf("symbol corrector not configured")
	}
	res := a.Symbols.CorrectAndValidate(raw)
	if res.Corrected == "" {
		return Subject{}, &shared.ValidationError{Field: "subject", Reason: "empty ticker"}
	}
	if res.WasCorrected {
		log.Printf("[app] corrected %q to %s", raw, res.Corrected)
	}
	if !res.IsKnownValid {
		log.Printf("[app] %s is not in the known listings; continuing", res.Corrected)
	}

	s := Subject{
		Result:    res,
		Currency:  a.Symbols.CurrencyFor(res.Corrected),
		Reference: a.ReferenceCurrency,
	}
	if a.FX != nil {
		s.ToReference = a.FX.GetFxRate(ctx, s.Currency, a.ReferenceCurrency, true)
	}
	return s, nil
}

// ConvertToReference converts an amount quoted in the subject's currency. The
// result is null when no rate is available.
func (s Subject) ConvertToReference(amount decimal.Decimal) decimal.NullDecimal {
	if !s.ToReference.Available() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount.Mul(s.ToReference.Value.Decimal))
}

// RecallContext returns past lessons for subject and role. Only exhausted
// throttling is an error.
func (a *App) RecallContext(ctx context.Context, subject, role, situation string, n int) (string, error) {
	return a.Memory.RelevantMemory(ctx, subject, role, situation, n)
}

// Outcome is what CompleteDebate produced.
type Outcome struct {
	Report       report.Report
	Artifact     *storage.Artifact
	ArtifactPath string
	Remembered   int
}

// situationText is the market context a debate was held in.
func situationText(state report.DebateState) string {
	parts := []string{
		state.MarketReport.Text(),
		state.SentimentReport.Text(),
		state.NewsReport.Text(),
		state.FundamentalsReport.Text(),
	}
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// CompleteDebate stores the lessons of a finished debate, renders the report,
// saves the artifact and sends the notification. Memory and notification
// failures are logged; only throttling and artifact errors are returned.
func (a *App) CompleteDebate(ctx context.Context, subject Subject, state report.DebateState) (*Outcome, error) {
	now := a.Now()
	if state.Subject == "" {
		state.Subject = subject.Symbol()
	}
	if state.TradeDate == "" {
		state.TradeDate = now.Format("2006-01-02")
	}

	r := report.Generate(state, now)
	out := &Outcome{Report: r}

	remembered, err := a.remember(ctx, subject.Symbol(), state, r)
	out.Remembered = remembered
	if shared.IsThrottling(err) {
		return out, err
	}
	if err != nil {
		log.Printf("[app] storing memories for %s: %v", subject.Symbol(), err)
	}

	usage := a.Ledger.TotalStats()
	if a.Results != nil {
		out.Artifact = &storage.Artifact{
			Subject:   subject.Symbol(),
			Timestamp: now,
			Currency:  subject.Currency,
			State:     state,
			Report:    r,
			Usage:     &usage,
		}
		path, err := a.Results.Save(out.Artifact)
		if err != nil {
			return out, err
		}
		out.ArtifactPath = path
		log.Printf("[app] saved analysis for %s to %s", subject.Symbol(), path)
	}

	if a.Notifier != nil {
		if err := a.Notifier.SendReport(ctx, r, &usage); err != nil {
			log.Printf("[app] notification for %s failed: %v", subject.Symbol(), err)
		}
	}
	return out, nil
}

func (a *App) remember(ctx context.Context, subject string, state report.DebateState, r report.Report) (int, error) {
	situation := situationText(state)
	if situation == "" || !a.Memory.Enabled() {
		return 0, nil
	}

	// Judges fall back to the decision they wrote into the state.
	lessons := map[string]string{
		memory.RoleBull:        state.InvestmentDebate.BullHistory.Text(),
		memory.RoleBear:        state.InvestmentDebate.BearHistory.Text(),
		memory.RoleInvestJudge: firstText(state.InvestmentDebate.JudgeDecision, state.InvestmentPlan),
		memory.RoleTrader:      state.TraderInvestmentPlan.Text(),
		memory.RoleRiskManager: firstText(state.RiskDebate.JudgeDecision, state.FinalTradeDecision),
	}

	total := 0
	var firstErr error
	for _, role := range memory.Roles {
		lesson := lessons[role]
		if lesson == "" {
			continue
		}
		store, err := a.Memory.Store(subject, role)
		if err != nil {
			return total, err
		}
		text := fmt.Sprintf("%s\n\nOutcome (%s): %s", situation, r.Decision, lesson)
		meta := map[string]string{
			"decision":   string(r.Decision),
			"trade_date": state.TradeDate,
		}
		n, err := store.AddSituations(ctx, []string{text}, []map[string]string{meta})
		total += n
		if shared.IsThrottling(err) {
			return total, err
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

func firstText(fields ...report.OneOrMany) string {
	for _, f := range fields {
		if t := f.Text(); t != "" {
			return t
		}
	}
	return ""
}

// Close releases every resource Bootstrap opened, in reverse order.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
