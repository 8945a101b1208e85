package config

import (
	"os"
	"path/filepath"

	"ai-market-analyst/internal/shared"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional TOML file named by CONFIG_FILE.
type FileConfig struct {
	Pricing PricingConfig `toml:"pricing"`
	FX      FXConfig      `toml:"fx"`
	Memory  MemoryConfig  `toml:"memory"`
	Symbols SymbolsConfig `toml:"symbols"`
}

// PricingConfig allows user-defined pricing for specific model prefixes.
type PricingConfig struct {
	Overrides map[string]ModelPriceOverride `toml:"overrides,omitempty"`
}

// ModelPriceOverride holds per-model prices in USD per million tokens.
type ModelPriceOverride struct {
	PromptPerMTok     *float64 `toml:"prompt_per_mtok,omitempty"`
	CompletionPerMTok *float64 `toml:"completion_per_mtok,omitempty"`
}

// FXConfig tunes the currency fallback chain.
type FXConfig struct {
	// Fallback maps a currency code to its USD value. Entries replace the
	// compiled-in table per currency.
	Fallback       map[string]float64 `toml:"fallback,omitempty"`
	TimeoutSeconds int                `toml:"timeout_seconds"`
}

// MemoryConfig tunes the subject memory store.
type MemoryConfig struct {
	MaxChars int `toml:"max_chars"`
}

// SymbolsConfig points at an external symbol correction table.
type SymbolsConfig struct {
	File string `toml:"file,omitempty"`
}

// DefaultFileConfig returns the settings used when no file is given.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		FX:     FXConfig{TimeoutSeconds: 3},
		Memory: MemoryConfig{MaxChars: 9000},
	}
}

// LoadFile reads a TOML config file on top of the defaults.
func LoadFile(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &shared.FatalError{Msg: "reading config " + path, Err: err}
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, &shared.FatalError{Msg: "parsing config " + path, Err: err}
	}
	if cfg.FX.TimeoutSeconds <= 0 {
		return cfg, shared.Fatalf("fx.timeout_seconds must be positive, got %d", cfg.FX.TimeoutSeconds)
	}
	if cfg.Memory.MaxChars <= 0 {
		return cfg, shared.Fatalf("memory.max_chars must be positive, got %d", cfg.Memory.MaxChars)
	}
	if cfg.Symbols.File != "" && !filepath.IsAbs(cfg.Symbols.File) {
		cfg.Symbols.File = filepath.Join(filepath.Dir(path), cfg.Symbols.File)
	}
	return cfg, nil
}

// SaveFile writes cfg as TOML.
func SaveFile(path string, cfg FileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
