// Package prompts resolves agent instructions from compiled-in defaults,
// external YAML documents and environment overrides.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"ai-market-analyst/internal/shared"

	"gopkg.in/yaml.v3"
)

//go:embed data/defaults.yaml
var defaultsYAML []byte

// EnvPrefix starts the environment variable that overrides a prompt, e.g.
// PROMPT_MARKET_ANALYST.
const EnvPrefix = "PROMPT_"

// Origin tells where a resolved prompt came from.
type Origin int

const (
	OriginDefault Origin = iota
	OriginDocument
	OriginEnvironment
)

func (o Origin) String() string {
	switch o {
	case OriginDefault:
		return "default"
	case OriginDocument:
		return "document"
	case OriginEnvironment:
		return "environment"
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// Definition is one agent prompt.
type Definition struct {
	Key           string            `yaml:"key"`
	DisplayName   string            `yaml:"display_name,omitempty"`
	Version       string            `yaml:"version,omitempty"`
	Category      string            `yaml:"category,omitempty"`
	RequiresTools bool              `yaml:"requires_tools,omitempty"`
	Metadata      map[string]string `yaml:"metadata,omitempty"`
	Instructions  string            `yaml:"instructions"`
}

// Resolved is a Definition tagged with the layer that supplied it.
type Resolved struct {
	Definition
	Origin Origin
}

type defaultsFile struct {
	Version string       `yaml:"version"`
	Prompts []Definition `yaml:"prompts"`
}

// Data is the set of fields the default prompts reference.
type Data struct {
	Subject     string
	CompanyName string
	Currency    string
	TradeDate   string
	Reports     string
	History     string
	Plan        string
	PastMemory  string
}

// Registry resolves prompts by key. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	defaults  map[string]Definition
	documents map[string]Definition
	lookupEnv func(string) (string, bool)
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Registry) { r.lookupEnv = fn }
}

// NewRegistry loads the compiled-in prompts.
func NewRegistry(opts ...Option) (*Registry, error) {
	var f defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &f); err != nil {
		return nil, &shared.FatalError{Msg: "parsing default prompts", Err: err}
	}

	r := &Registry{
		defaults:  make(map[string]Definition, len(f.Prompts)),
		documents: map[string]Definition{},
		lookupEnv: os.LookupEnv,
	}
	for _, def := range f.Prompts {
		def.Key = normalizeKey(def.Key)
		if def.Key == "" {
			return nil, shared.Fatalf("default prompt without key")
		}
		if def.Version == "" {
			def.Version = f.Version
		}
		r.defaults[def.Key] = def
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// EnvVar is the environment variable that overrides key.
func EnvVar(key string) string {
	return EnvPrefix + strings.ToUpper(normalizeKey(key))
}

// Keys lists every known prompt key, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.defaults)+len(r.documents))
	for k := range r.defaults {
		seen[k] = struct{}{}
	}
	for k := range r.documents {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) origin(key string) Origin {
	if v, ok := r.lookupEnv(EnvVar(key)); ok && strings.TrimSpace(v) != "" {
		return OriginEnvironment
	}
	if _, ok := r.documents[key]; ok {
		return OriginDocument
	}
	return OriginDefault
}

// Get resolves key. The environment override wins, then an external
// document, then the compiled-in default. An unknown key is a FatalError.
func (r *Registry) Get(key string) (Resolved, error) {
	key = normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, hasDefault := r.defaults[key]
	doc, hasDoc := r.documents[key]
	if !hasDefault && !hasDoc {
		return Resolved{}, shared.Fatalf("unknown prompt key %q", key)
	}

	base := def
	if hasDoc {
		base = doc
	}
	baseVersion := def.Version
	if !hasDefault {
		baseVersion = doc.Version
	}
	if baseVersion == "" {
		baseVersion = "1.0.0"
	}

	switch o := r.origin(key); o {
	case OriginEnvironment:
		v, _ := r.lookupEnv(EnvVar(key))
		base.Instructions = v
		base.Version = baseVersion + "-env"
		return Resolved{Definition: base, Origin: o}, nil
	case OriginDocument:
		if doc.Version == "" {
			doc.Version = baseVersion + "-doc"
		}
		return Resolved{Definition: fillFrom(doc, def), Origin: o}, nil
	case OriginDefault:
		return Resolved{Definition: def, Origin: o}, nil
	default:
		panic(fmt.Sprintf("prompts: unhandled origin %v", o))
	}
}

// fillFrom copies descriptive fields a document left empty from the default.
func fillFrom(doc, def Definition) Definition {
	if doc.DisplayName == "" {
		doc.DisplayName = def.DisplayName
	}
	if doc.Category == "" {
		doc.Category = def.Category
	}
	if !doc.RequiresTools {
		doc.RequiresTools = def.RequiresTools
	}
	return doc
}

// List resolves every known prompt.
func (r *Registry) List() []Resolved {
	keys := r.Keys()
	out := make([]Resolved, 0, len(keys))
	for _, k := range keys {
		if res, err := r.Get(k); err == nil {
			out = append(out, res)
		}
	}
	return out
}

// Render resolves key and executes its instructions as a template.
func (r *Registry) Render(key string, data any) (string, error) {
	res, err := r.Get(key)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(res.Key).Option("missingkey=zero").Parse(res.Instructions)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt %s (%s): %w", res.Key, res.Origin, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s (%s): %w", res.Key, res.Origin, err)
	}
	return buf.String(), nil
}

// LoadDir replaces the external documents with the *.yaml and *.yml files in
// dir. A missing directory clears them. A file without a key uses its base
// name as key.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		r.mu.Lock()
		r.documents = map[string]Definition{}
		r.mu.Unlock()
		return 0, nil
	}
	if err != nil {
		return 0, &shared.FatalError{Msg: "reading prompts dir " + dir, Err: err}
	}

	docs := make(map[string]Definition)
	for _, e := range entries {
		if e.IsDir() || !isPromptFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := readDocument(path)
		if err != nil {
			return 0, err
		}
		docs[def.Key] = def
	}

	r.mu.Lock()
	r.documents = docs
	r.mu.Unlock()

	log.Printf("[prompts] loaded %d prompt documents from %s", len(docs), dir)
	return len(docs), nil
}

func isPromptFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func readDocument(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, &shared.FatalError{Msg: "reading prompt " + path, Err: err}
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, &shared.FatalError{Msg: "parsing prompt " + path, Err: err}
	}
	if def.Key == "" {
		def.Key = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	def.Key = normalizeKey(def.Key)
	if strings.TrimSpace(def.Instructions) == "" {
		return Definition{}, shared.Fatalf("prompt %s has no instructions", path)
	}
	return def, nil
}

// ExportAll writes every resolved prompt to dir as {key}.yaml.
func (r *Registry) ExportAll(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create export dir: %w", err)
	}
	n := 0
	for _, res := range r.List() {
		data, err := yaml.Marshal(res.Definition)
		if err != nil {
			return n, fmt.Errorf("failed to encode prompt %s: %w", res.Key, err)
		}
		path := filepath.Join(dir, res.Key+".yaml")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return n, fmt.Errorf("failed to write %s: %w", path, err)
		}
		n++
	}
	return n, nil
}
