package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/prompt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	llmProviders      = []string{"ollama", "openai", "gemini"}
	embedderProviders = []string{"local", "ollama", "openai", "gemini"}
)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if !slices.Contains(llmProviders, c.LLM.Provider) {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.Provider == "ollama" && c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	}

	if c.LLM.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid base URL",
			})
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	if c.LLM.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_attempts",
			Message: "max_attempts must be positive",
		})
	}

	if c.LLM.AttemptTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.attempt_timeout",
			Message: "attempt_timeout must be positive",
		})
	}

	if c.LLM.InitialBackoff < 0 || c.LLM.MaxBackoff < c.LLM.InitialBackoff {
		errors = append(errors, ValidationError{
			Field:   "llm.max_backoff",
			Message: "backoffs must be non-negative and max_backoff at least initial_backoff",
		})
	}

	if c.LLM.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	// Validate Embedder config
	if !slices.Contains(embedderProviders, c.Embedder.Provider) {
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Embedder.Provider),
		})
	}

	if c.Embedder.Dimensions < 0 || (c.Embedder.Provider == "local" && c.Embedder.Dimensions == 0) {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimensions",
			Message: "dimensions must be positive for the local embedder",
		})
	}

	if c.Embedder.BatchSize < 1 || c.Embedder.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size and concurrency must be positive",
		})
	}

	if c.Embedder.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.max_attempts",
			Message: "max_attempts must be positive",
		})
	}

	if c.Embedder.InitialBackoff < 0 || c.Embedder.MaxBackoff < c.Embedder.InitialBackoff {
		errors = append(errors, ValidationError{
			Field:   "embedder.max_backoff",
			Message: "backoffs must be non-negative and max_backoff at least initial_backoff",
		})
	}

	// Validate Chunker config
	if c.Chunker.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Retriever config
	if c.Retriever.KPerSource < 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.k_per_source",
			Message: "k_per_source must be positive",
		})
	}

	if c.Retriever.MaxResults < c.Retriever.KPerSource {
		errors = append(errors, ValidationError{
			Field:   "retriever.max_results",
			Message: "max_results must be at least k_per_source",
		})
	}

	// Validate Prompt config
	if c.Prompt.BudgetChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "prompt.budget_chars",
			Message: "budget_chars must be positive",
		})
	}

	if !slices.Contains(prompt.Styles(), c.Prompt.Style) {
		errors = append(errors, ValidationError{
			Field:   "prompt.style",
			Message: fmt.Sprintf("unknown style %q", c.Prompt.Style),
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 0 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must not be negative",
		})
	}

	// Validate Scraper config
	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Server config
	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Message: "addr is required",
		})
	}

	return errors
}

// Check returns the validation failures as one error wrapping ErrInvalidConfig.
func (c *Config) Check() error {
	verrs := c.Validate()
	if len(verrs) == 0 {
		return nil
	}
	errs := make([]error, len(verrs))
	for i, e := range verrs {
		errs[i] = e
	}
	return fmt.Errorf("%w: %w", models.ErrInvalidConfig, errors.Join(errs...))
}
