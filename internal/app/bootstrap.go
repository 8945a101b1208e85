package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"ai-market-analyst/internal/config"
	"ai-market-analyst/internal/database"
	"ai-market-analyst/internal/fx"
	"ai-market-analyst/internal/llm"
	"ai-market-analyst/internal/memory"
	"ai-market-analyst/internal/metrics"
	"ai-market-analyst/internal/prompts"
	"ai-market-analyst/internal/shared"
	"ai-market-analyst/internal/storage"
	"ai-market-analyst/internal/symbols"
	"ai-market-analyst/internal/telegram"
)

// Bootstrap builds an App from the configuration. Missing credentials only
// disable the components that need them; broken configuration is fatal.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	d := Deps{
		ReferenceCurrency: cfg.ReferenceCurrency,
		DataDir:           cfg.DataDir,
	}
	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	limiter, err := llm.NewRateLimiter(cfg.RequestsPerMinute)
	if err != nil {
		return fail(err)
	}
	d.Limiter = limiter
	d.Invoker = llm.NewRetryInvoker(limiter)

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize database: %w", err))
	}
	closers = append(closers, db.Close)

	d.Usage = metrics.NewStore(db.SQL)
	d.Ledger = metrics.NewLedger(metrics.NewPriceTable(cfg.File.Pricing.Overrides), metrics.WithSink(d.Usage))

	var embedder llm.EmbeddingGenerator
	gemini, err := llm.NewGeminiClient(ctx, cfg)
	switch {
	case err == nil:
		closers = append(closers, gemini.Close)
		d.QuickThink = gemini
		d.DeepThink = gemini.WithModel(cfg.DeepThinkModel)

		cached, err := llm.NewCachedEmbeddingGenerator(llm.NewGuardedEmbeddingGenerator(gemini, d.Invoker), cfg.EmbeddingCachePath)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, cached.SaveCache)
		embedder = cached
	case shared.IsUnavailable(err):
		log.Printf("[app] %v; agents and memory are disabled", err)
	default:
		return fail(err)
	}

	if cfg.EnableCrossValidation {
		groq, err := llm.NewGroqClient(cfg)
		if err != nil {
			log.Printf("[app] cross-validation disabled: %v", err)
		} else {
			d.CrossValidation = groq
		}
	}

	var backend memory.Backend
	if cfg.EnableMemory {
		backend = memory.NewSQLiteRepository(db.SQL)
	}
	// The embedder is already guarded, so the manager gets no invoker.
	d.Memory = memory.NewManager(backend, embedder, nil, memory.WithMaxChars(cfg.File.Memory.MaxChars))

	if cfg.File.Symbols.File != "" {
		d.Symbols, err = symbols.LoadCorrector(cfg.File.Symbols.File)
	} else {
		d.Symbols, err = symbols.NewCorrector()
	}
	if err != nil {
		return fail(err)
	}

	quoter := fx.NewYahooQuoter(&http.Client{Timeout: 10 * time.Second}, fx.DefaultYahooURL)
	d.FX = fx.NewNormalizer(quoter,
		fx.WithFallbackRates(cfg.File.FX.Fallback),
		fx.WithTimeout(time.Duration(cfg.File.FX.TimeoutSeconds)*time.Second),
		fx.WithReference(cfg.ReferenceCurrency),
	)

	d.Prompts, err = prompts.NewRegistry()
	if err != nil {
		return fail(err)
	}
	if cfg.PromptsDir != "" {
		n, err := d.Prompts.LoadDir(cfg.PromptsDir)
		if err != nil {
			return fail(err)
		}
		log.Printf("[app] loaded %d prompt documents from %s", n, cfg.PromptsDir)
	}

	d.Results, err = storage.NewAnalysisStore(cfg.ResultsDir)
	if err != nil {
		return fail(err)
	}

	if cfg.TelegramBotToken != "" {
		n, err := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, cfg.TelegramChatIDs)
		if err != nil {
			var unavailable *shared.UnavailableError
			if !errors.As(err, &unavailable) {
				return fail(err)
			}
			log.Printf("[app] notifications disabled: %v", err)
		} else {
			d.Notifier = n
		}
	}

	a := New(d)
	a.closers = closers
	return a, nil
}

// WatchPrompts reloads prompt documents whenever PROMPTS_DIR changes.
func (a *App) WatchPrompts(ctx context.Context, dir string) error {
	if dir == "" || a.Prompts == nil {
		return nil
	}
	return a.Prompts.Watch(ctx, dir)
}
