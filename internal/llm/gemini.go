package llm

import (
	"context"
	"fmt"
	"strings"

	"ai-market-analyst/internal/config"
	"ai-market-analyst/internal/shared"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiProvider = "gemini"

// GeminiClient is a client for the Google Gemini API. It serves both text
// generation and embeddings, since both draw on the same provider quota.
type GeminiClient struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	embedder  *genai.EmbeddingModel
	owner     bool
}

// NewGeminiClient creates a new Gemini API client bound to the quick-think model.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, &shared.UnavailableError{Resource: "gemini client", Err: fmt.Errorf("GEMINI_API_KEY not set")}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		client:    client,
		model:     client.GenerativeModel(cfg.QuickThinkModel),
		modelName: cfg.QuickThinkModel,
		embedder:  client.EmbeddingModel(cfg.EmbeddingModel),
		owner:     true,
	}, nil
}

// WithModel returns a generator for another model that shares the underlying
// connection. Only the original client closes it.
func (c *GeminiClient) WithModel(name string) *GeminiClient {
	return &GeminiClient{
		client:    c.client,
		model:     c.client.GenerativeModel(name),
		modelName: name,
		embedder:  c.embedder,
	}
}

// ModelName returns the generative model this client targets.
func (c *GeminiClient) ModelName() string { return c.modelName }

// GenerateContent sends a prompt to the Gemini model and returns the generated text.
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return ContentResponse{}, classifyProviderError(geminiProvider, fmt.Errorf("failed to generate content: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ContentResponse{}, &shared.ValidationError{Field: "gemini response", Reason: "no content generated"}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return ContentResponse{}, &shared.ValidationError{Field: "gemini response", Reason: "generated content is not text"}
	}

	usage := shared.TokenUsage{Model: c.modelName}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return ContentResponse{Content: sb.String(), Usage: usage}, nil
}

// GenerateEmbedding returns the embedding vector for text.
func (c *GeminiClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	res, err := c.embedder.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classifyProviderError(geminiProvider, fmt.Errorf("failed to embed content: %w", err))
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, &shared.ValidationError{Field: "embedding", Reason: "empty vector"}
	}
	return res.Embedding.Values, nil
}

// Close closes the underlying Gemini client.
func (c *GeminiClient) Close() error {
	if !c.owner {
		return nil
	}
	return c.client.Close()
}
