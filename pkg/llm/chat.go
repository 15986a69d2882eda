package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string // ollama, openai or gemini
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama or OpenAI-compatible server URL
}

// ChatEngine is a TextModel backed by a langchaingo model.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

var _ types.TextModel = (*ChatEngine)(nil)

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if err := applyChatDefaults(&config); err != nil {
		return nil, err
	}

	var (
		llm llms.Model
		err error
	)
	switch config.Provider {
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case "openai":
		opts := []openai.Option{openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown chat provider %q", models.ErrInvalidConfig, config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewChatEngine(llm, config), nil
}

// NewChatEngine wraps an existing langchaingo model.
func NewChatEngine(llm llms.Model, config ChatConfig) *ChatEngine {
	return &ChatEngine{config: config, llm: llm}
}

func applyChatDefaults(config *ChatConfig) error {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		switch config.Provider {
		case "openai":
			config.Model = "gpt-4o-mini"
		case "gemini":
			config.Model = "gemini-2.5-flash"
		default:
			config.Model = "mistral"
		}
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be between 0 and 1", models.ErrInvalidConfig)
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens cannot be negative", models.ErrInvalidConfig)
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.Provider == "ollama" && config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	return nil
}

// NewTextModel returns the configured backend, including Gemini.
func NewTextModel(ctx context.Context, config ChatConfig) (types.TextModel, error) {
	if config.Provider != "gemini" {
		return NewWithConfig(config)
	}
	if err := applyChatDefaults(&config); err != nil {
		return nil, err
	}
	return NewGeminiClient(ctx, GeminiConfig{
		Model:       config.Model,
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
	})
}

// Complete sends a system and a human message and returns the first choice.
func (ce *ChatEngine) Complete(ctx context.Context, system, user string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	resp, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("chat error: no response from LLM")
	}
	return resp.Choices[0].Content, nil
}
