package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/reachout/pkg/llm"
	"github.com/xhad/reachout/pkg/pipeline"
	"github.com/xhad/reachout/pkg/processor"
	"github.com/xhad/reachout/pkg/prompt"
	"github.com/xhad/reachout/pkg/retriever"
	"github.com/xhad/reachout/pkg/scraper"
	"github.com/xhad/reachout/pkg/store"
)

type LLMConfig struct {
	Provider       string        `yaml:"provider"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RateLimit      float64       `yaml:"rate_limit"`
}

type EmbedderConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Dimensions  int           `yaml:"dimensions"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`

	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type RetrieverConfig struct {
	KPerSource int `yaml:"k_per_source"`
	MaxResults int `yaml:"max_results"`
}

type PromptConfig struct {
	BudgetChars        int    `yaml:"budget_chars"`
	Style              string `yaml:"style"`
	SystemInstructions string `yaml:"system_instructions"`
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	TablePrefix string `yaml:"table_prefix"`
	VectorDim   int    `yaml:"vector_dim"`
	SearchLimit int    `yaml:"search_limit"`
}

type ScraperConfig struct {
	RateLimit      float64       `yaml:"rate_limit"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Database  DatabaseConfig  `yaml:"database"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/reachout/config.yaml"),
			"/etc/reachout/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "openai":
			config.LLM.Model = "gpt-4o-mini"
		case "gemini":
			config.LLM.Model = "gemini-2.5-flash"
		default:
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxAttempts == 0 {
		config.LLM.MaxAttempts = 3
	}
	if config.LLM.AttemptTimeout == 0 {
		config.LLM.AttemptTimeout = 60 * time.Second
	}
	if config.LLM.InitialBackoff == 0 {
		config.LLM.InitialBackoff = 500 * time.Millisecond
	}
	if config.LLM.MaxBackoff == 0 {
		config.LLM.MaxBackoff = 8 * time.Second
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "local"
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Dimensions == 0 && config.Embedder.Provider == "local" {
		config.Embedder.Dimensions = llm.DefaultHashDimensions
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}
	if config.Embedder.Concurrency == 0 {
		config.Embedder.Concurrency = 4
	}
	if config.Embedder.Timeout == 0 {
		config.Embedder.Timeout = 30 * time.Second
	}
	if config.Embedder.MaxAttempts == 0 {
		config.Embedder.MaxAttempts = 3
	}
	if config.Embedder.InitialBackoff == 0 {
		config.Embedder.InitialBackoff = 500 * time.Millisecond
	}
	if config.Embedder.MaxBackoff == 0 {
		config.Embedder.MaxBackoff = 8 * time.Second
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = processor.DefaultChunkSize
		if config.Chunker.ChunkOverlap == 0 {
			config.Chunker.ChunkOverlap = processor.DefaultChunkOverlap
		}
	}

	if config.Retriever.KPerSource == 0 {
		config.Retriever.KPerSource = retriever.DefaultKPerSource
	}
	if config.Retriever.MaxResults == 0 {
		config.Retriever.MaxResults = retriever.DefaultMaxResults
	}

	if config.Prompt.BudgetChars == 0 {
		config.Prompt.BudgetChars = prompt.DefaultBudget
	}
	if config.Prompt.Style == "" {
		config.Prompt.Style = prompt.DefaultStyle
	}

	if config.Database.TablePrefix == "" {
		config.Database.TablePrefix = "reachout"
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("REACHOUT_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "" || config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
}

// ChatConfig returns the text model settings.
func (c *Config) ChatConfig() llm.ChatConfig {
	return llm.ChatConfig{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		BaseURL:     c.LLM.BaseURL,
	}
}

// GeneratorConfig returns the retry policy for drafting.
func (c *Config) GeneratorConfig() llm.GeneratorConfig {
	return llm.GeneratorConfig{
		MaxAttempts:    c.LLM.MaxAttempts,
		AttemptTimeout: c.LLM.AttemptTimeout,
		InitialBackoff: c.LLM.InitialBackoff,
		MaxBackoff:     c.LLM.MaxBackoff,
		RateLimit:      c.LLM.RateLimit,
	}
}

func (c *Config) EmbedderConfig() llm.EmbedderConfig {
	return llm.EmbedderConfig{
		Provider:    c.Embedder.Provider,
		Model:       c.Embedder.Model,
		BaseURL:     c.Embedder.BaseURL,
		Dimensions:  c.Embedder.Dimensions,
		BatchSize:   c.Embedder.BatchSize,
		Concurrency: c.Embedder.Concurrency,
		Timeout:     c.Embedder.Timeout,
	}
}

func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Chunker: processor.ProcessorConfig{
			ChunkSize:    c.Chunker.ChunkSize,
			ChunkOverlap: c.Chunker.ChunkOverlap,
		},
		Retriever: retriever.Config{
			KPerSource: c.Retriever.KPerSource,
			MaxResults: c.Retriever.MaxResults,
		},
		Prompt: prompt.Config{
			BudgetChars:        c.Prompt.BudgetChars,
			SystemInstructions: c.Prompt.SystemInstructions,
		},
		Style:      c.Prompt.Style,
		EmbedRetry: c.EmbedRetryConfig(),
	}
}

func (c *Config) EmbedRetryConfig() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:    c.Embedder.MaxAttempts,
		InitialBackoff: c.Embedder.InitialBackoff,
		MaxBackoff:     c.Embedder.MaxBackoff,
	}
}

func (c *Config) ArchiveConfig() store.ArchiveConfig {
	return store.ArchiveConfig{
		ConnString:  c.Database.URL,
		TablePrefix: c.Database.TablePrefix,
		VectorDim:   c.Database.VectorDim,
		SearchLimit: c.Database.SearchLimit,
	}
}

func (c *Config) ScraperConfig() scraper.ScraperConfig {
	return scraper.ScraperConfig{
		RateLimit:      c.Scraper.RateLimit,
		Timeout:        c.Scraper.Timeout,
		UserAgent:      c.Scraper.UserAgent,
		IgnorePatterns: c.Scraper.IgnorePatterns,
	}
}
