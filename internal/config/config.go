package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Anthropic AnthropicConfig
	LLM       LLMConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Chunk     ChunkConfig
	Session   SessionConfig
	Docs      DocsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MCP      bool
	APIToken string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type LLMConfig struct {
	MaxTokens int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	MaxResults int
	// MinSimilarity is the cosine similarity a catalog match must reach for a
	// course name to resolve. Zero accepts any top-1 match.
	MinSimilarity float64
}

type ChunkConfig struct {
	Size    int
	Overlap int
}

type SessionConfig struct {
	MaxHistory int
}

type DocsConfig struct {
	Dir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Anthropic: AnthropicConfig{
			Model:   "claude-sonnet-4-20250514",
			BaseURL: "https://api.anthropic.com",
		},
		LLM: LLMConfig{
			MaxTokens: 800,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			MaxResults: 5,
		},
		Chunk: ChunkConfig{
			Size:    800,
			Overlap: 100,
		},
		Session: SessionConfig{
			MaxHistory: 2,
		},
		Docs: DocsConfig{
			Dir: "../docs",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/courserag/config.json, a .env file in the working
// directory, and environment variables.
//
// Environment variables (COURSERAG_*) override file values. The Anthropic API
// key is a secret and is only read from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env file: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireAPIKey reports a configuration error when no Anthropic API key is set.
// Commands that never call the model (ingest, courses) skip this check.
func (c Config) RequireAPIKey() error {
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("missing required config: Anthropic API key. " +
			"Set it via environment variable ANTHROPIC_API_KEY or COURSERAG_ANTHROPIC_API_KEY")
	}
	return nil
}

func (c Config) validate() error {
	if c.Retrieval.MaxResults <= 0 {
		return fmt.Errorf("retrieval.max_results must be positive, got %d", c.Retrieval.MaxResults)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity must be within [0, 1], got %v", c.Retrieval.MinSimilarity)
	}
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be within [0, chunk.size), got %d", c.Chunk.Overlap)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	return nil
}
