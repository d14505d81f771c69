package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/memex/internal/config"
)

// TestGetModelDimensions tests known model dimension lookups.
func TestGetModelDimensions(t *testing.T) {
	tests := []struct {
		model    string
		expected int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
		{"embeddinggemma", 768},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"unknown-model", 0},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetModelDimensions(tt.model))
		})
	}
}

func TestResolveModel(t *testing.T) {
	base := config.DefaultConfig().Embeddings

	tests := []struct {
		name     string
		mutate   func(*config.EmbeddingsConfig)
		expected string
		errMsg   string
	}{
		{"minilm", func(c *config.EmbeddingsConfig) { c.Profile = "minilm" }, "all-minilm", ""},
		{"gemma", func(c *config.EmbeddingsConfig) { c.Profile = "gemma" }, "embeddinggemma", ""},
		{"nomic", func(c *config.EmbeddingsConfig) { c.Profile = "nomic" }, "nomic-embed-text", ""},
		{"custom", func(c *config.EmbeddingsConfig) {
			c.Profile = "custom"
			c.Ollama.Model = "bge-m3"
		}, "bge-m3", ""},
		{"empty profile is custom", func(c *config.EmbeddingsConfig) {
			c.Profile = ""
			c.Ollama.Model = "bge-m3"
		}, "bge-m3", ""},
		{"openai ignores profile", func(c *config.EmbeddingsConfig) {
			c.Provider = "openai"
			c.Profile = "gemma"
		}, config.DefaultOpenAIEmbedModel, ""},
		{"unknown profile", func(c *config.EmbeddingsConfig) { c.Profile = "potion" }, "", "unknown embedding profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			model, err := ResolveModel(c)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, model)
		})
	}
}

// TestNewOllamaService tests Ollama service creation.
func TestNewOllamaService(t *testing.T) {
	t.Run("with default URL", func(t *testing.T) {
		svc, err := NewOllamaService("", "nomic-embed-text", "auto")
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:11434", svc.baseURL)
		assert.Equal(t, 768, svc.Dimensions())
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "nomic-embed-text", svc.ModelName())
		assert.Nil(t, svc.options())
	})

	t.Run("with custom URL", func(t *testing.T) {
		svc, err := NewOllamaService("http://custom:8080/", "mxbai-embed-large", "auto")
		require.NoError(t, err)

		assert.Equal(t, "http://custom:8080", svc.baseURL)
		assert.Equal(t, 1024, svc.Dimensions())
	})

	t.Run("cpu compute units disable gpu layers", func(t *testing.T) {
		svc, err := NewOllamaService("", "all-minilm", "cpu")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"num_gpu": 0}, svc.options())
	})

	t.Run("requires model", func(t *testing.T) {
		_, err := NewOllamaService("", "", "auto")
		assert.Error(t, err)
	})
}

// TestNewOpenAIService tests OpenAI service creation.
func TestNewOpenAIService(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewOpenAIService("", "text-embedding-3-small", "", 0)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key is required")
	})

	t.Run("with known model dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-small", "", 0)
		require.NoError(t, err)

		assert.Equal(t, 1536, svc.Dimensions())
		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, "text-embedding-3-small", svc.ModelName())
	})

	t.Run("with custom dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-large", "", 512)
		require.NoError(t, err)
		assert.Equal(t, 512, svc.Dimensions())
	})
}

// TestOllamaTaskPrefixes tests task prefix application.
func TestOllamaTaskPrefixes(t *testing.T) {
	tests := []struct {
		model    string
		document string
		query    string
	}{
		{"nomic-embed-text", "search_document: x", "search_query: x"},
		{"nomic-embed-text:latest", "search_document: x", "search_query: x"},
		{"mxbai-embed-large", "x", "Represent this sentence for searching relevant passages: x"},
		{"embeddinggemma", "title: none | text: x", "task: search result | query: x"},
		{"all-minilm", "x", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			svc, err := NewOllamaService("", tt.model, "auto")
			require.NoError(t, err)
			assert.Equal(t, tt.document, svc.applyPrefix("x", false))
			assert.Equal(t, tt.query, svc.applyPrefix("x", true))
		})
	}
}

// mockOllamaServer creates a test server that simulates Ollama's embed API.
// Each vector is filled with a value derived from its input text length.
func mockOllamaServer(t *testing.T, dims int, requests *[]ollamaEmbedRequest) *httptest.Server {
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ollamaEmbedRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if requests != nil {
			mu.Lock()
			*requests = append(*requests, req)
			mu.Unlock()
		}

		embeddings := make([][]float32, len(req.Input))
		for i, input := range req.Input {
			embedding := make([]float32, dims)
			for j := range embedding {
				embedding[j] = float32(len(input))
			}
			embeddings[i] = embedding
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings})
	}))
}

// TestOllamaEmbed tests the Ollama embedding methods with a mock server.
func TestOllamaEmbed(t *testing.T) {
	var requests []ollamaEmbedRequest
	server := mockOllamaServer(t, 384, &requests)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "all-minilm", "cpu")
	require.NoError(t, err)

	t.Run("EmbedBatch multiple texts", func(t *testing.T) {
		embeddings, err := svc.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
		require.NoError(t, err)

		require.Len(t, embeddings, 3)
		for i, emb := range embeddings {
			assert.Len(t, emb, 384)
			assert.Equal(t, float32(i+1), emb[0])
		}

		last := requests[len(requests)-1]
		assert.Equal(t, "all-minilm", last.Model)
		assert.True(t, last.Truncate)
		assert.EqualValues(t, 0, last.Options["num_gpu"])
	})

	t.Run("EmbedQuery single text", func(t *testing.T) {
		embedding, err := svc.EmbedQuery(context.Background(), "test query")
		require.NoError(t, err)
		assert.Len(t, embedding, 384)
	})

	t.Run("EmbedBatch empty returns nil", func(t *testing.T) {
		embeddings, err := svc.EmbedBatch(context.Background(), []string{})
		require.NoError(t, err)
		assert.Nil(t, embeddings)
	})
}

// TestOllamaErrorHandling tests error cases.
func TestOllamaErrorHandling(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"model \"nope\" not found"}`))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nope", "auto")
		_, err := svc.EmbedBatch(context.Background(), []string{"test"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("connection error", func(t *testing.T) {
		svc, _ := NewOllamaService("http://localhost:99999", "nomic-embed-text", "auto")
		_, err := svc.EmbedBatch(context.Background(), []string{"test"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to make request")
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", "auto")
		_, err := svc.EmbedBatch(context.Background(), []string{"test"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode response")
	})

	t.Run("short response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1}}})
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", "auto")
		_, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
		assert.ErrorIs(t, err, ErrNoEmbedding)
	})
}

// TestOllamaDimensionUpdate tests that dimensions are updated from response.
func TestOllamaDimensionUpdate(t *testing.T) {
	server := mockOllamaServer(t, 512, nil)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text", "auto")
	assert.Equal(t, 768, svc.Dimensions())

	dims, err := Warm(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, 512, dims)
	assert.Equal(t, 512, svc.Dimensions())
}

// TestNewService tests the factory function.
func TestNewService(t *testing.T) {
	t.Run("creates Ollama service from profile", func(t *testing.T) {
		cfg := config.DefaultConfig().Embeddings
		cfg.Profile = "gemma"

		svc, err := NewService(cfg)
		require.NoError(t, err)

		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "embeddinggemma", svc.ModelName())
	})

	t.Run("creates OpenAI service", func(t *testing.T) {
		cfg := config.DefaultConfig().Embeddings
		cfg.Provider = "openai"
		cfg.OpenAI.APIKey = "sk-test"

		svc, err := NewService(cfg)
		require.NoError(t, err)

		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, "text-embedding-3-small", svc.ModelName())
	})

	t.Run("returns error for unsupported provider", func(t *testing.T) {
		cfg := config.DefaultConfig().Embeddings
		cfg.Provider = "unsupported"

		_, err := NewService(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported embedding provider")
	})

	t.Run("pool from config", func(t *testing.T) {
		cfg := config.DefaultConfig().Embeddings
		cfg.Workers = 3

		pool, err := NewPoolFromConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, 3, pool.Size())
		assert.Equal(t, "nomic-embed-text", pool.ModelName())
	})
}

// TestContextCancellation tests that operations respect context cancellation.
func TestContextCancellation(t *testing.T) {
	server := mockOllamaServer(t, 8, nil)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text", "auto")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.EmbedBatch(ctx, []string{"test"})
	assert.ErrorIs(t, err, context.Canceled)
}

// countingService embeds each text as a one-element vector of its length.
type countingService struct {
	calls atomic.Int32
	texts atomic.Int32
	fail  error
}

var _ Service = (*countingService)(nil)

func (c *countingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	if c.fail != nil {
		return nil, c.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (c *countingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 0}, nil
}

func (c *countingService) Dimensions() int    { return 2 }
func (c *countingService) Provider() Provider { return "mock" }
func (c *countingService) ModelName() string  { return "mock-model" }

func TestPoolPreservesOrder(t *testing.T) {
	services := []*countingService{{}, {}, {}}
	pool, err := NewPool([]Service{services[0], services[1], services[2]}, 0)
	require.NoError(t, err)

	var texts []string
	for i := 1; i <= 10; i++ {
		texts = append(texts, strings.Repeat("x", i))
	}

	vecs, err := pool.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}

	// 10 texts over 3 services: 4, 4, 2
	assert.EqualValues(t, 4, services[0].texts.Load())
	assert.EqualValues(t, 4, services[1].texts.Load())
	assert.EqualValues(t, 2, services[2].texts.Load())
}

func TestPoolCache(t *testing.T) {
	svc := &countingService{}
	pool, err := NewPool([]Service{svc}, 16)
	require.NoError(t, err)

	_, err = pool.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, 2, pool.CacheLen())

	vecs, err := pool.EmbedBatch(context.Background(), []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1}, vecs[0])
	assert.Equal(t, []float32{3, 1}, vecs[1])
	assert.Equal(t, []float32{1, 1}, vecs[2])

	// Only "ccc" reached the service the second time
	assert.EqualValues(t, 2, svc.calls.Load())
	assert.EqualValues(t, 3, svc.texts.Load())

	_, err = pool.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, svc.calls.Load())
}

func TestPoolCacheHashCollision(t *testing.T) {
	svc := &countingService{}
	pool, err := NewPool([]Service{svc}, 16)
	require.NoError(t, err)
	pool.hash = func(string) uint64 { return 42 }

	_, err = pool.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	vecs, err := pool.EmbedBatch(context.Background(), []string{"bb"})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1}, vecs[0])
	assert.EqualValues(t, 2, svc.calls.Load())
}

func TestPoolSmallBatchUsesFewerServices(t *testing.T) {
	services := []*countingService{{}, {}, {}, {}}
	pool, err := NewPool([]Service{services[0], services[1], services[2], services[3]}, 0)
	require.NoError(t, err)

	_, err = pool.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, services[0].calls.Load())
	for _, s := range services[1:] {
		assert.Zero(t, s.calls.Load())
	}
}

func TestPoolError(t *testing.T) {
	boom := errors.New("boom")
	pool, err := NewPool([]Service{&countingService{}, &countingService{fail: boom}}, 0)
	require.NoError(t, err)

	_, err = pool.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, pool.CacheLen())
}

func TestPoolRequiresService(t *testing.T) {
	_, err := NewPool(nil, 0)
	assert.Error(t, err)
}

func TestWarm(t *testing.T) {
	dims, err := Warm(context.Background(), &countingService{})
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	_, err = Warm(context.Background(), &countingService{fail: errors.New("down")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm-up")
}
