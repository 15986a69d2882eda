package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
)

// ErrMalformedOutput marks model output that does not have the requested shape.
var ErrMalformedOutput = errors.New("malformed model output")

// GeneratorConfig holds the retry and timeout policy around a TextModel.
type GeneratorConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RateLimit      float64 // requests per second, 0 disables
}

// Generator drafts emails with a bounded retry policy. Timeouts, rate limits and
// malformed output are retried; every other failure is returned at once.
type Generator struct {
	model   types.TextModel
	config  GeneratorConfig
	backoff Backoff
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ types.Generator = (*Generator)(nil)

// NewGenerator wraps model with the given policy.
func NewGenerator(model types.TextModel, config GeneratorConfig) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: generator needs a text model", models.ErrInvalidConfig)
	}
	if config.MaxAttempts < 0 || config.AttemptTimeout < 0 || config.RateLimit < 0 {
		return nil, fmt.Errorf("%w: generator policy values must not be negative", models.ErrInvalidConfig)
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.AttemptTimeout == 0 {
		config.AttemptTimeout = 60 * time.Second
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 8 * time.Second
	}

	g := &Generator{
		model:   model,
		config:  config,
		backoff: Backoff{Initial: config.InitialBackoff, Max: config.MaxBackoff},
		logger:  slog.Default(),
	}
	if config.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return g, nil
}

// WithLogger replaces the logger.
func (g *Generator) WithLogger(l *slog.Logger) *Generator {
	g.logger = l
	return g
}

// Generate sends the prompt and parses the reply into an email.
func (g *Generator) Generate(ctx context.Context, prompt models.Prompt) (models.GeneratedEmail, error) {
	return complete(ctx, g, prompt.SystemInstructions, prompt.UserMessage(), ParseEmail)
}

// complete runs the retry loop around one system/user exchange. Replies that
// parse rejects with ErrMalformedOutput are retried like transient failures.
func complete[T any](ctx context.Context, g *Generator, system, user string, parse func(string) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, g.backoff.Delay(attempt-1)); err != nil {
				return zero, fmt.Errorf("%w: %w", models.ErrGeneration, err)
			}
		}

		out, err := g.attempt(ctx, system, user)
		if err == nil {
			var v T
			if v, err = parse(out); err == nil {
				g.logger.Debug("completion parsed", "stage", "generation", "attempt", attempt)
				return v, nil
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %w", models.ErrGeneration, err)
		}
		if !IsTransient(err) && !errors.Is(err, ErrMalformedOutput) {
			return zero, fmt.Errorf("%w: %w", models.ErrGeneration, err)
		}
		g.logger.Warn("generation attempt failed",
			"stage", "generation",
			"attempt", attempt,
			"max_attempts", g.config.MaxAttempts,
			"error", err)
	}
	return zero, fmt.Errorf("%w: after %d attempts: %w", models.ErrGeneration, g.config.MaxAttempts, lastErr)
}

type completion struct {
	text string
	err  error
}

func (g *Generator) attempt(ctx context.Context, system, user string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	actx, cancel := context.WithTimeout(ctx, g.config.AttemptTimeout)
	defer cancel()

	// The call runs on its own goroutine so a model that ignores ctx cannot
	// hold the attempt past its deadline.
	done := make(chan completion, 1)
	go func() {
		text, err := g.model.Complete(actx, system, user)
		done <- completion{text: text, err: err}
	}()

	select {
	case c := <-done:
		if c.err != nil {
			if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return "", fmt.Errorf("%w: attempt exceeded %s: %w", models.ErrTransient, g.config.AttemptTimeout, c.err)
			}
			return "", c.err
		}
		return c.text, nil
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: attempt exceeded %s", models.ErrTransient, g.config.AttemptTimeout)
	}
}

// ParseEmail reads a "Subject: ..." line followed by the body.
func ParseEmail(text string) (models.GeneratedEmail, error) {
	text = stripFences(text)
	lines := strings.Split(text, "\n")

	first := -1
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return models.GeneratedEmail{}, fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}

	head := strings.Trim(strings.TrimSpace(lines[first]), "*#_ ")
	if len(head) < len("subject:") || !strings.EqualFold(head[:len("subject:")], "subject:") {
		return models.GeneratedEmail{}, fmt.Errorf("%w: missing subject line", ErrMalformedOutput)
	}

	email := models.GeneratedEmail{
		Subject: strings.Trim(strings.TrimSpace(head[len("subject:"):]), "*_ "),
		Body:    strings.TrimSpace(strings.Join(lines[first+1:], "\n")),
	}
	if email.Subject == "" {
		return models.GeneratedEmail{}, fmt.Errorf("%w: empty subject", ErrMalformedOutput)
	}
	if email.Body == "" {
		return models.GeneratedEmail{}, fmt.Errorf("%w: empty body", ErrMalformedOutput)
	}
	return email, nil
}

func stripFences(s string) string {
	clean := strings.TrimSpace(s)
	if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
		if nl := strings.IndexByte(clean, '\n'); nl >= 0 && !strings.Contains(clean[:nl], " ") {
			clean = clean[nl+1:]
		}
		clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	}
	return strings.TrimSpace(clean)
}
