package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
)

// EmbeddingClient is the batch call every embedding backend exposes.
// langchaingo's ollama and openai clients satisfy it directly.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider    string // local, ollama, openai or gemini
	Model       string
	BaseURL     string // Ollama or OpenAI-compatible server URL
	Dimensions  int    // required for local, learned from the first response otherwise
	BatchSize   int
	Concurrency int
	Timeout     time.Duration // per batch
}

// Embedder batches texts over an EmbeddingClient. Batches run in parallel and
// results keep input order. Any failed batch fails the whole call.
type Embedder struct {
	config EmbedderConfig
	client EmbeddingClient
	logger *slog.Logger

	mu  sync.Mutex
	dim int
}

var _ types.Embedder = (*Embedder)(nil)

// NewEmbedderWithConfig builds the configured backend and wraps it.
func NewEmbedderWithConfig(ctx context.Context, config EmbedderConfig) (*Embedder, error) {
	applyEmbedderDefaults(&config)

	var client EmbeddingClient
	switch config.Provider {
	case "local":
		client = NewHashEmbedder(config.Dimensions)
	case "ollama":
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = emb
	case "openai":
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		client = emb
	case "gemini":
		g, err := NewGeminiClient(ctx, GeminiConfig{EmbeddingModel: config.Model, Dimensions: config.Dimensions})
		if err != nil {
			return nil, err
		}
		client = g
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", models.ErrInvalidConfig, config.Provider)
	}

	return NewEmbedder(client, config), nil
}

// NewEmbedder wraps an existing client.
func NewEmbedder(client EmbeddingClient, config EmbedderConfig) *Embedder {
	applyEmbedderDefaults(&config)
	e := &Embedder{
		config: config,
		client: client,
		logger: slog.Default(),
	}
	if config.Provider == "local" {
		e.dim = config.Dimensions
	}
	return e
}

func applyEmbedderDefaults(config *EmbedderConfig) {
	if config.Provider == "" {
		config.Provider = "local"
	}
	if config.Model == "" {
		switch config.Provider {
		case "ollama":
			config.Model = "nomic-embed-text:latest"
		case "openai":
			config.Model = "text-embedding-3-small"
		case "gemini":
			config.Model = "text-embedding-004"
		}
	}
	if config.Provider == "ollama" && config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Provider == "local" && config.Dimensions <= 0 {
		config.Dimensions = DefaultHashDimensions
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
}

// WithLogger replaces the logger.
func (e *Embedder) WithLogger(l *slog.Logger) *Embedder {
	e.logger = l
	return e
}

// Dimension returns the vector size, or 0 before a remote backend has answered.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Embed returns one vector per text in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for lo := 0; lo < len(texts); lo += e.config.BatchSize {
		hi := min(lo+e.config.BatchSize, len(texts))
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, e.config.Timeout)
			defer cancel()

			vecs, err := e.client.CreateEmbedding(bctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("%w: batch [%d:%d]: %w", models.ErrEmbeddingService, lo, hi, err)
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("%w: batch [%d:%d] returned %d vectors", models.ErrEmbeddingService, lo, hi, len(vecs))
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("embedding failed", "stage", "embedding", "texts", len(texts), "error", err)
		return nil, err
	}

	if err := e.checkDimensions(out); err != nil {
		return nil, err
	}

	e.logger.Debug("embedded texts",
		"stage", "embedding",
		"provider", e.config.Provider,
		"texts", len(texts),
		"duration", time.Since(start))
	return out, nil
}

func (e *Embedder) checkDimensions(vecs [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dim := e.dim
	if dim == 0 {
		dim = len(vecs[0])
	}
	for i, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			return fmt.Errorf("%w: text %d has dimension %d, expected %d: %w",
				models.ErrEmbeddingService, i, len(v), dim, models.ErrDimensionMismatch)
		}
	}
	e.dim = dim
	return nil
}

// EmbedChunks embeds chunk texts and pairs each vector with its chunk id.
func EmbedChunks(ctx context.Context, emb types.Embedder, chunks []models.Chunk) ([]models.EmbeddingVector, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		if !errors.Is(err, models.ErrEmbeddingService) {
			err = fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
		}
		return nil, err
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", models.ErrEmbeddingService, len(vecs), len(chunks))
	}

	out := make([]models.EmbeddingVector, len(chunks))
	for i, c := range chunks {
		out[i] = models.EmbeddingVector{
			ChunkID:   c.ID,
			Vector:    vecs[i],
			Dimension: len(vecs[i]),
		}
	}
	return out, nil
}
