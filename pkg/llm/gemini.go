package llm

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini backend. An empty APIKey falls back to
// GEMINI_API_KEY and then GOOGLE_API_KEY.
type GeminiConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimensions     int
	Temperature    float64
	MaxTokens      int
}

// GeminiClient serves both embeddings and completions from the Gemini API.
type GeminiClient struct {
	config GeminiConfig
	client *genai.Client
}

// NewGeminiClient connects to the Gemini API backend.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if config.APIKey == "" {
		config.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{config: config, client: client}, nil
}

// CreateEmbedding embeds texts in a single request.
func (g *GeminiClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if g.config.Dimensions > 0 {
		dim := int32(g.config.Dimensions)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.config.EmbeddingModel, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Complete sends a system instruction and a user message.
func (g *GeminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(float32(g.config.Temperature)),
	}
	if g.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}
