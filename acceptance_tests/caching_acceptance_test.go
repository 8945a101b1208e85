package acceptance_tests

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ai-market-analyst/internal/app"
	"ai-market-analyst/internal/database"
	"ai-market-analyst/internal/fx"
	"ai-market-analyst/internal/llm"
	"ai-market-analyst/internal/memory"
	"ai-market-analyst/internal/metrics"
	"ai-market-analyst/internal/prompts"
	"ai-market-analyst/internal/report"
	"ai-market-analyst/internal/shared"
	"ai-market-analyst/internal/storage"
	"ai-market-analyst/internal/symbols"
)

// --- Mock LLM Client ---
type mockLLMClient struct {
	generateContentCalls atomic.Int32
	embeddingCalls       atomic.Int32
}

func (m *mockLLMClient) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	m.generateContentCalls.Add(1)
	text := "Balanced view, no strong signal."
	// Managers and the trader are asked for an explicit decision.
	if strings.Contains(prompt, "FINAL TRANSACTION PROPOSAL") || strings.Contains(prompt, "Action:") {
		text = "After weighing both sides.\n\nAction: SELL"
	}
	return llm.ContentResponse{
		Content: text,
		Usage:   shared.TokenUsage{PromptTokens: 800, CompletionTokens: 200, TotalTokens: 1000, Model: "gemini-2.0-flash"},
	}, nil
}

func (m *mockLLMClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.embeddingCalls.Add(1)
	// Two coarse features are enough to separate the test situations.
	v := []float32{0.1, 0.1}
	if strings.Contains(text, "fading") {
		v[0] = 1
	}
	if strings.Contains(text, "rally") {
		v[1] = 1
	}
	return v, nil
}

type run struct {
	app      *app.App
	db       *database.DB
	embedder *llm.CachedEmbeddingGenerator
}

// newRun wires an App the way Bootstrap does, with the mock standing in for
// the model provider.
func newRun(t *testing.T, dir string, client *mockLLMClient) *run {
	t.Helper()

	db, err := database.NewDB(filepath.Join(dir, "agent.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	invoker := llm.NewRetryInvoker(nil, llm.WithBackoff(time.Millisecond))
	cached, err := llm.NewCachedEmbeddingGenerator(llm.NewGuardedEmbeddingGenerator(client, invoker), filepath.Join(dir, "embeddings_cache.json"))
	if err != nil {
		t.Fatalf("Failed to create embedding cache: %v", err)
	}
	corrector, err := symbols.NewCorrector()
	if err != nil {
		t.Fatalf("Failed to load symbols: %v", err)
	}
	registry, err := prompts.NewRegistry(prompts.WithLookupEnv(func(string) (string, bool) { return "", false }))
	if err != nil {
		t.Fatalf("Failed to load prompts: %v", err)
	}
	results, err := storage.NewAnalysisStore(filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("Failed to create results store: %v", err)
	}
	usage := metrics.NewStore(db.SQL)

	a := app.New(app.Deps{
		Invoker:    invoker,
		QuickThink: client,
		DeepThink:  client,
		Memory:     memory.NewManager(memory.NewSQLiteRepository(db.SQL), cached, nil),
		Symbols:    corrector,
		FX:         fx.NewNormalizer(nil),
		Ledger:     metrics.NewLedger(nil, metrics.WithSink(usage)),
		Usage:      usage,
		Prompts:    registry,
		Results:    results,
	})
	return &run{app: a, db: db, embedder: cached}
}

func (r *run) close(t *testing.T) {
	if err := r.embedder.SaveCache(); err != nil {
		t.Errorf("Failed to save embedding cache: %v", err)
	}
	r.db.Close()
}

// --- Acceptance Test ---
func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client := &mockLLMClient{}

	// --- Step 1: a complete debate ---
	t.Log("--- Step 1: Running the debate ---")
	first := newRun(t, dir, client)

	subject, err := first.app.PrepareSubject(ctx, "NOVN.S-CH")
	if err != nil {
		t.Fatalf("PrepareSubject failed: %v", err)
	}
	if subject.Symbol() != "NOVN.SW" || subject.Currency != "CHF" {
		t.Fatalf("Unexpected subject %s in %s", subject.Symbol(), subject.Currency)
	}

	data := prompts.Data{Subject: subject.Symbol(), CompanyName: subject.CompanyName, Currency: subject.Currency, TradeDate: "2025-01-15"}
	state := report.DebateState{TradeDate: "2025-01-15"}
	steps := []struct {
		key  string
		into *report.OneOrMany
	}{
		{"market_analyst", &state.MarketReport},
		{"bull_researcher", &state.InvestmentDebate.BullHistory},
		{"bear_researcher", &state.InvestmentDebate.BearHistory},
		{"research_manager", &state.InvestmentPlan},
		{"trader", &state.TraderInvestmentPlan},
		{"risk_manager", &state.FinalTradeDecision},
	}
	for _, s := range steps {
		res, err := first.app.RunAgent(ctx, s.key, data)
		if err != nil {
			t.Fatalf("Agent %s failed: %v", s.key, err)
		}
		*s.into = report.One(res.Text)
	}
	state.MarketReport = report.One("Momentum is fading. " + state.MarketReport.Text())

	out, err := first.app.CompleteDebate(ctx, subject, state)
	if err != nil {
		t.Fatalf("CompleteDebate failed: %v", err)
	}
	if out.Report.Decision != report.Sell || out.Report.Source != report.SourceFinalDecision {
		t.Errorf("Expected SELL from the final decision, got %s from %q", out.Report.Decision, out.Report.Source)
	}
	if out.Remembered != 5 {
		t.Errorf("Expected a lesson for every role, got %d", out.Remembered)
	}
	if got := first.app.Ledger.TotalStats().TotalCalls; got != len(steps) {
		t.Errorf("Expected %d recorded calls, got %d", len(steps), got)
	}
	embeddedFirst := client.embeddingCalls.Load()
	first.close(t)

	// --- Step 2: a new process recalls the lessons ---
	t.Log("--- Step 2: Recalling in a new session ---")
	second := newRun(t, dir, client)
	defer second.close(t)

	recalled, err := second.app.RecallContext(ctx, "NOVN.SW", memory.RoleTrader, "Momentum is fading", 1)
	if err != nil {
		t.Fatalf("RecallContext failed: %v", err)
	}
	if !strings.Contains(recalled, "Outcome (SELL)") {
		t.Errorf("Expected the stored trader lesson, got %q", recalled)
	}

	// Storing the same situation again is served from the embedding cache.
	if _, err := second.app.CompleteDebate(ctx, subject, state); err != nil {
		t.Fatalf("Second CompleteDebate failed: %v", err)
	}
	if hits, _ := second.embedder.Stats(); hits == 0 {
		t.Errorf("Expected embedding cache hits in the second session")
	}
	if got := client.embeddingCalls.Load() - embeddedFirst; got != 1 {
		t.Errorf("Expected only the new recall query to be embedded, got %d calls", got)
	}

	// Usage of the first session survived the restart.
	daily, err := second.app.Usage.DailyUsage(ctx, 1)
	if err != nil {
		t.Fatalf("DailyUsage failed: %v", err)
	}
	if len(daily) != 1 || daily[0].TotalExecution != len(steps) {
		t.Errorf("Expected %d persisted calls today, got %+v", len(steps), daily)
	}

	versions, err := second.app.Results.Versions("NOVN.SW")
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) == 0 {
		t.Errorf("Expected a stored artifact")
	}
}
