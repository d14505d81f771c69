// Package embeddings provides text embedding services for semantic search.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickcecere/memex/internal/config"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// ErrNoEmbedding is returned when a provider answers without a vector for
// every input text.
var ErrNoEmbedding = errors.New("no embedding returned")

// warmupText is embedded once at startup to learn the model's dimensionality.
const warmupText = "dimension_check"

// Service defines the interface for embedding services.
type Service interface {
	// EmbedBatch generates document embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a search query (may use a
	// different task prefix than documents).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"embeddinggemma":         768,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// Model profiles selectable with embeddings.profile or MEMEX_MODEL.
var profiles = map[string]string{
	"minilm": "all-minilm",
	"gemma":  "embeddinggemma",
	"nomic":  "nomic-embed-text",
}

// ProfileCustom uses the configured provider model verbatim.
const ProfileCustom = "custom"

// ResolveModel returns the model name for the configured provider and profile.
// Profiles only apply to Ollama; OpenAI always uses its configured model.
func ResolveModel(cfg config.EmbeddingsConfig) (string, error) {
	if Provider(cfg.Provider) == ProviderOpenAI {
		return cfg.OpenAI.Model, nil
	}
	if cfg.Profile == "" || cfg.Profile == ProfileCustom {
		return cfg.Ollama.Model, nil
	}
	model, ok := profiles[cfg.Profile]
	if !ok {
		return "", fmt.Errorf("unknown embedding profile %q: want minilm, gemma, nomic or custom", cfg.Profile)
	}
	return model, nil
}

// NewService creates an embedding service based on the configuration.
func NewService(cfg config.EmbeddingsConfig) (Service, error) {
	model, err := ResolveModel(cfg)
	if err != nil {
		return nil, err
	}

	switch Provider(cfg.Provider) {
	case ProviderOllama:
		return NewOllamaService(cfg.Ollama.URL, model, cfg.ComputeUnits)
	case ProviderOpenAI:
		return NewOpenAIService(
			cfg.OpenAI.APIKey,
			model,
			cfg.OpenAI.BaseURL,
			cfg.OpenAI.Dimensions,
		)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// NewPoolFromConfig builds cfg.Workers service instances behind a caching pool.
func NewPoolFromConfig(cfg config.EmbeddingsConfig) (*Pool, error) {
	workers := max(cfg.Workers, 1)
	services := make([]Service, 0, workers)
	for i := 0; i < workers; i++ {
		svc, err := NewService(cfg)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return NewPool(services, cfg.CacheSize)
}

// Warm embeds a probe text and returns the model's dimensionality. It is
// the first call made against a new service, so it also surfaces an
// unreachable server or a missing model.
func Warm(ctx context.Context, svc Service) (int, error) {
	vecs, err := svc.EmbedBatch(ctx, []string{warmupText})
	if err != nil {
		return 0, fmt.Errorf("embedder warm-up failed: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("embedder warm-up failed: %w", ErrNoEmbedding)
	}
	return len(vecs[0]), nil
}

// checkCount verifies a provider returned one vector per input.
func checkCount(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrNoEmbedding, len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at %d", ErrNoEmbedding, i)
		}
	}
	return nil
}
