// Package embed generates vector embeddings for semantic search.
//
// Providers: a deterministic offline hash embedder (default, no network),
// Ollama (local server), Gemini via google.golang.org/genai, and OpenAI via
// github.com/openai/openai-go.
package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the length of every vector Embed produces.
	Dimensions() int

	// Name identifies the provider and model, e.g. "ollama:nomic-embed-text".
	Name() string
}

// Provider names accepted by New.
const (
	ProviderNone   = "none"
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderGenAI  = "genai"
	ProviderOpenAI = "openai"
)

// Config selects and configures a provider.
type Config struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// DefaultConfig uses the offline hash embedder.
func DefaultConfig() Config {
	return Config{Provider: ProviderHash, Dimensions: DefaultHashDimensions}
}

// New builds the configured embedder. ProviderNone returns (nil, nil), which
// callers treat as "vector search disabled".
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderNone:
		return nil, nil
	case "", ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case ProviderOllama:
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions), nil
	case ProviderGenAI, "gemini":
		return NewGenAIEmbedder(ctx, apiKey(cfg, "GEMINI_API_KEY"), cfg.Model, cfg.Dimensions)
	case ProviderOpenAI:
		return NewOpenAIEmbedder(apiKey(cfg, "OPENAI_API_KEY"), cfg.BaseURL, cfg.Model, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func apiKey(cfg Config, fallbackEnv string) string {
	if cfg.APIKeyEnv != "" {
		return os.Getenv(cfg.APIKeyEnv)
	}
	return os.Getenv(fallbackEnv)
}

// checkDimensions rejects a provider response whose length differs from the
// configured dimensionality.
func checkDimensions(name string, vec []float32, want int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%s: empty embedding", name)
	}
	if want > 0 && len(vec) != want {
		return nil, fmt.Errorf("%s: got %d dimensions, want %d", name, len(vec), want)
	}
	return vec, nil
}
