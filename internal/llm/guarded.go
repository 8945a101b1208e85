package llm

import (
	"context"
)

// GuardedTextGenerator routes every call of the wrapped generator through a
// RetryInvoker, so it shares the process rate budget.
type GuardedTextGenerator struct {
	gen     TextGenerator
	invoker *RetryInvoker
	label   string
}

// NewGuardedTextGenerator wraps gen. label identifies the call in logs and errors.
func NewGuardedTextGenerator(gen TextGenerator, invoker *RetryInvoker, label string) *GuardedTextGenerator {
	return &GuardedTextGenerator{gen: gen, invoker: invoker, label: label}
}

func (g *GuardedTextGenerator) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	return Invoke(ctx, g.invoker, g.label, func(ctx context.Context) (ContentResponse, error) {
		return g.gen.GenerateContent(ctx, prompt)
	})
}

// GuardedEmbeddingGenerator is the embedding counterpart. Embeddings count
// against the same provider quota as text generation.
type GuardedEmbeddingGenerator struct {
	gen     EmbeddingGenerator
	invoker *RetryInvoker
}

func NewGuardedEmbeddingGenerator(gen EmbeddingGenerator, invoker *RetryInvoker) *GuardedEmbeddingGenerator {
	return &GuardedEmbeddingGenerator{gen: gen, invoker: invoker}
}

func (g *GuardedEmbeddingGenerator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return Invoke(ctx, g.invoker, "embedding", func(ctx context.Context) ([]float32, error) {
		return g.gen.GenerateEmbedding(ctx, text)
	})
}
