package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ai-market-analyst/internal/shared"
)

// Defaults for optional settings.
const (
	DefaultRequestsPerMinute = 15
	DefaultReferenceCurrency = "USD"
	DefaultDataDir           = "./data"
	DefaultQuickThinkModel   = "gemini-2.0-flash"
	DefaultDeepThinkModel    = "gemini-2.5-pro"
	DefaultEmbeddingModel    = "text-embedding-004"
	DefaultGroqModel         = "llama-3.3-70b-versatile"
)

// Config holds the configuration for the application.
type Config struct {
	GeminiAPIKey string
	GroqAPIKey   string
	GroqAPIURL   string
	GroqModel    string

	RequestsPerMinute     int
	ReferenceCurrency     string
	EnableMemory          bool
	EnableCrossValidation bool

	QuickThinkModel string
	DeepThinkModel  string
	EmbeddingModel  string

	DataDir            string
	DatabasePath       string
	ResultsDir         string
	EmbeddingCachePath string
	PromptsDir         string

	// Telegram Config
	TelegramBotToken    string
	TelegramChatIDs     []int64
	TelegramAPIEndpoint string

	ConfigFile string
	File       FileConfig
}

// NewFromEnv creates a new Config object from environment variables.
// Missing credentials only disable the component that needs them; malformed
// values are rejected here so they never surface mid-run.
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GroqAPIKey:          os.Getenv("GROQ_API_KEY"),
		GroqAPIURL:          os.Getenv("GROQ_API_URL"),
		GroqModel:           envOr("GROQ_MODEL", DefaultGroqModel),
		ReferenceCurrency:   strings.ToUpper(envOr("REFERENCE_CURRENCY", DefaultReferenceCurrency)),
		QuickThinkModel:     envOr("QUICK_THINK_MODEL", DefaultQuickThinkModel),
		DeepThinkModel:      envOr("DEEP_THINK_MODEL", DefaultDeepThinkModel),
		EmbeddingModel:      envOr("EMBEDDING_MODEL", DefaultEmbeddingModel),
		DataDir:             envOr("DATA_DIR", DefaultDataDir),
		PromptsDir:          os.Getenv("PROMPTS_DIR"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAPIEndpoint: os.Getenv("TELEGRAM_API_ENDPOINT"),
		ConfigFile:          os.Getenv("CONFIG_FILE"),
	}

	var err error
	if cfg.RequestsPerMinute, err = envInt("REQUESTS_PER_MINUTE", DefaultRequestsPerMinute); err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute <= 0 {
		return nil, shared.Fatalf("REQUESTS_PER_MINUTE must be positive, got %d", cfg.RequestsPerMinute)
	}
	if cfg.EnableMemory, err = envBool("ENABLE_MEMORY", true); err != nil {
		return nil, err
	}
	if cfg.EnableCrossValidation, err = envBool("ENABLE_CROSS_VALIDATION", false); err != nil {
		return nil, err
	}
	if len(cfg.ReferenceCurrency) != 3 {
		return nil, shared.Fatalf("REFERENCE_CURRENCY must be a 3-letter code, got %q", cfg.ReferenceCurrency)
	}

	cfg.DatabasePath = envOr("DATABASE_PATH", filepath.Join(cfg.DataDir, "agent.db"))
	cfg.ResultsDir = envOr("RESULTS_DIR", filepath.Join(cfg.DataDir, "results"))
	cfg.EmbeddingCachePath = envOr("EMBEDDING_CACHE_PATH", filepath.Join(cfg.DataDir, "embeddings_cache.json"))

	if raw := os.Getenv("TELEGRAM_CHAT_IDS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, &shared.FatalError{Msg: fmt.Sprintf("invalid TELEGRAM_CHAT_IDS entry %q", part), Err: err}
			}
			cfg.TelegramChatIDs = append(cfg.TelegramChatIDs, id)
		}
	}

	cfg.File = DefaultFileConfig()
	if cfg.ConfigFile != "" {
		fc, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.File = fc
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &shared.FatalError{Msg: fmt.Sprintf("%s must be an integer, got %q", key, v), Err: err}
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &shared.FatalError{Msg: fmt.Sprintf("%s must be a boolean, got %q", key, v), Err: err}
	}
	return b, nil
}
