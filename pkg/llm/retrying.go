package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
)

// RetryConfig bounds how often a transient embedding failure is retried.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryingEmbedder retries transient failures of the wrapped embedder with
// exponential backoff. Every other failure is returned at once.
type RetryingEmbedder struct {
	inner   types.Embedder
	config  RetryConfig
	backoff Backoff
	logger  *slog.Logger
}

var _ types.Embedder = (*RetryingEmbedder)(nil)

// NewRetryingEmbedder wraps inner. Zero config values take the generator's defaults.
func NewRetryingEmbedder(inner types.Embedder, config RetryConfig) *RetryingEmbedder {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 8 * time.Second
	}
	return &RetryingEmbedder{
		inner:   inner,
		config:  config,
		backoff: Backoff{Initial: config.InitialBackoff, Max: config.MaxBackoff},
		logger:  slog.Default(),
	}
}

// WithLogger replaces the logger.
func (r *RetryingEmbedder) WithLogger(l *slog.Logger) *RetryingEmbedder {
	r.logger = l
	return r
}

func (r *RetryingEmbedder) Dimension() int { return r.inner.Dimension() }

// Embed calls the wrapped embedder up to MaxAttempts times.
func (r *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, r.backoff.Delay(attempt-1)); err != nil {
				return nil, serviceErr(fmt.Errorf("retry interrupted: %w: %w", err, lastErr))
			}
		}

		vecs, err := r.inner.Embed(ctx, texts)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("embedding recovered", "stage", "embedding", "attempt", attempt)
			}
			return vecs, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) {
			return nil, serviceErr(err)
		}
		r.logger.Warn("embedding attempt failed",
			"stage", "embedding",
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"error", err)
	}
	return nil, serviceErr(fmt.Errorf("after %d attempts: %w", r.config.MaxAttempts, lastErr))
}

func serviceErr(err error) error {
	if errors.Is(err, models.ErrEmbeddingService) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
}
