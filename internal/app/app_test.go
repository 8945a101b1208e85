package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTextGen struct {
	res   string
	model string
	err   error
	calls atomic.Int32
}

func (m *mockTextGen) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	m.calls.Add(1)
	if m.err != nil {
		return llm.ContentResponse{}, m.err
	}
	return llm.ContentResponse{
		Content: m.res,
		Usage:   shared.TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500, Model: m.model},
	}, nil
}

type mockEmbGen struct{}

func (m *mockEmbGen) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type mockNotifier struct {
	mu      sync.Mutex
	reports []report.Report
	err     error
}

func (m *mockNotifier) SendReport(ctx context.Context, r report.Report, usage *metrics.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return m.err
}

func noEnv(string) (string, bool) { return "", false }

func newTestApp(t *testing.T, d Deps) *App {
	t.Helper()
	if d.Prompts == nil {
		reg, err := prompts.NewRegistry(prompts.WithLookupEnv(noEnv))
		require.NoError(t, err)
		d.Prompts = reg
	}
	if d.Invoker == nil {
		d.Invoker = llm.NewRetryInvoker(nil, llm.WithBackoff(time.Millisecond))
	}
	return New(d)
}

func TestRunAgent_RecordsUsage(t *testing.T) {
	quick := &mockTextGen{res: "The chart looks fine.", model: "gemini-2.0-flash"}
	deep := &mockTextGen{res: "Action: BUY", model: "gemini-2.5-pro"}
	a := newTestApp(t, Deps{QuickThink: quick, DeepThink: deep})

	res, err := a.RunAgent(context.Background(), "market_analyst", prompts.Data{Subject: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "The chart looks fine.", res.Text)
	assert.Equal(t, prompts.OriginDefault, res.PromptOrigin)
	assert.Equal(t, "MarketAnalyst", res.Meta.AgentName)

	usage, ok := a.Ledger.Agent("MarketAnalyst")
	require.True(t, ok)
	assert.Equal(t, 1, usage.Calls)
	assert.Equal(t, 1500, usage.TotalTokens)
	assert.Equal(t, "0.0003", usage.Cost.String())

	_, err = a.RunAgent(context.Background(), "risk_manager", prompts.Data{Subject: "AAPL"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, quick.calls.Load())
	assert.EqualValues(t, 1, deep.calls.Load(), "managers run on the deep-think model")
	assert.Equal(t, 2, a.Ledger.TotalStats().TotalCalls)
}

func TestRunAgent_Errors(t *testing.T) {
	t.Run("UnknownPrompt", func(t *testing.T) {
		a := newTestApp(t, Deps{QuickThink: &mockTextGen{}})
		_, err := a.RunAgent(context.Background(), "astrologer", prompts.Data{})
		assert.True(t, shared.IsFatal(err))
	})

	t.Run("NoModel", func(t *testing.T) {
		a := newTestApp(t, Deps{})
		_, err := a.RunAgent(context.Background(), "trader", prompts.Data{})
		assert.True(t, shared.IsUnavailable(err))
	})

	t.Run("ThrottlingExhausted", func(t *testing.T) {
		gen := &mockTextGen{err: &shared.ThrottlingError{Provider: "gemini", Err: errors.New("429")}}
		a := newTestApp(t, Deps{QuickThink: gen})
		_, err := a.RunAgent(context.Background(), "trader", prompts.Data{})
		assert.True(t, shared.IsThrottling(err))
		assert.EqualValues(t, llm.DefaultMaxAttempts, gen.calls.Load())
		assert.Equal(t, 0, a.Ledger.TotalStats().TotalCalls)
	})
}

func TestCrossValidate(t *testing.T) {
	primary := AgentResult{Text: "FINAL TRANSACTION PROPOSAL: **BUY**"}

	a := newTestApp(t, Deps{QuickThink: &mockTextGen{res: "x"}})
	cc, err := a.CrossValidate(context.Background(), "trader", prompts.Data{}, primary)
	require.NoError(t, err)
	assert.Nil(t, cc, "disabled without a second provider")

	cross := &mockTextGen{res: "Decision: SELL", model: "llama-3.3-70b-versatile"}
	a = newTestApp(t, Deps{QuickThink: &mockTextGen{res: "x"}, CrossValidation: cross})
	cc, err = a.CrossValidate(context.Background(), "trader", prompts.Data{}, primary)
	require.NoError(t, err)
	require.NotNil(t, cc)
	assert.Equal(t, report.Buy, cc.Primary)
	assert.Equal(t, report.Sell, cc.Secondary)
	assert.False(t, cc.Agree)

	_, ok := a.Ledger.Agent("TraderCrossCheck")
	assert.True(t, ok)
}

func TestPrepareSubject(t *testing.T) {
	corrector, err := symbols.NewCorrector()
	require.NoError(t, err)
	a := newTestApp(t, Deps{Symbols: corrector, FX: fx.NewNormalizer(nil)})

	s, err := a.PrepareSubject(context.Background(), "novn.s")
	require.NoError(t, err)
	assert.Equal(t, "NOVN.SW", s.Symbol())
	assert.True(t, s.WasCorrected)
	assert.Equal(t, "CHF", s.Currency)
	assert.Equal(t, fx.SourceFallback, s.ToReference.Source)
	assert.Equal(t, "113", s.ConvertToReference(decimal.NewFromInt(100)).Decimal.String())

	usd, err := a.PrepareSubject(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, fx.SourceIdentity, usd.ToReference.Source)

	_, err = a.PrepareSubject(context.Background(), "   ")
	assert.True(t, shared.IsValidation(err))
}

func TestCompleteDebate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := database.NewDB(filepath.Join(dir, "agent.db"))
	require.NoError(t, err)
	defer db.Close()

	results, err := storage.NewAnalysisStore(filepath.Join(dir, "results"))
	require.NoError(t, err)

	notifier := &mockNotifier{err: errors.New("telegram down")}
	now := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	a := newTestApp(t, Deps{
		Memory:   memory.NewManager(memory.NewSQLiteRepository(db.SQL), &mockEmbGen{}, nil),
		Results:  results,
		Notifier: notifier,
		Now:      func() time.Time { return now },
	})
	a.Ledger.RecordUsage("MarketAnalyst", "gemini-2.0-flash", 1000, 500)

	state := report.DebateState{
		MarketReport: report.One("Momentum is fading after the earnings beat."),
		InvestmentDebate: report.InvestmentDebate{
			BullHistory: report.One("Bull: margins keep expanding."),
		},
		RiskDebate: report.RiskDebate{
			JudgeDecision: report.One("Exposure is too large for the current volatility."),
		},
		FinalTradeDecision: report.One("Action: SELL"),
	}

	subject := Subject{Result: symbols.Result{Corrected: "AAPL"}, Currency: "USD"}
	out, err := a.CompleteDebate(ctx, subject, state)
	require.NoError(t, err, "notification failures are not returned")

	assert.Equal(t, report.Sell, out.Report.Decision)
	assert.Equal(t, "AAPL", out.Report.Subject)
	assert.Equal(t, "2025-01-15", out.Report.TradeDate)
	assert.Equal(t, 2, out.Remembered)
	assert.FileExists(t, out.ArtifactPath)
	assert.Len(t, notifier.reports, 1)

	saved, err := results.Latest("AAPL")
	require.NoError(t, err)
	require.NotNil(t, saved.Usage)
	assert.Equal(t, 1, saved.Usage.TotalCalls)

	recalled, err := a.RecallContext(ctx, "AAPL", memory.RoleBull, "Momentum is fading", 1)
	require.NoError(t, err)
	assert.Contains(t, recalled, "Outcome (SELL): Bull: margins keep expanding.")

	empty, err := a.RecallContext(ctx, "AAPL", memory.RoleTrader, "Momentum is fading", 1)
	require.NoError(t, err)
	assert.Contains(t, empty, "No relevant memory")
}

func TestCompleteDebate_MemoryDisabled(t *testing.T) {
	a := newTestApp(t, Deps{})
	out, err := a.CompleteDebate(context.Background(), Subject{Result: symbols.Result{Corrected: "MSFT"}}, report.DebateState{
		MarketReport: report.One("Flat."),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Remembered)
	assert.Equal(t, report.Hold, out.Report.Decision)
	assert.Empty(t, out.ArtifactPath)
}

func TestClose_ReverseOrder(t *testing.T) {
	var order []int
	a := New(Deps{})
	a.closers = []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("boom") },
		func() error { order = append(order, 3); return nil },
	}
	assert.EqualError(t, a.Close(), "boom")
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.NoError(t, a.Close())
}
