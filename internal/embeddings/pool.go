package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

const defaultCacheSize = 4096

// Pool fans a batch out across several service instances and caches vectors
// by text hash. It is itself a Service.
type Pool struct {
	services []Service
	cache    *lru.Cache[uint64, cacheEntry]
	hash     func(string) uint64
}

// cacheEntry keeps the text so a hash collision is a miss, not a wrong vector.
type cacheEntry struct {
	text   string
	vector []float32
}

var _ Service = (*Pool)(nil)

// NewPool wraps services. cacheSize <= 0 uses a default size.
func NewPool(services []Service, cacheSize int) (*Pool, error) {
	if len(services) == 0 {
		return nil, errors.New("embedding pool needs at least one service")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[uint64, cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Pool{services: services, cache: cache, hash: xxhash.Sum64String}, nil
}

// EmbedBatch embeds texts, serving repeats from the cache. Cache misses are
// split into contiguous slices, one per service, and joined in input order.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]uint64, len(texts))
	var missing []int
	for i, text := range texts {
		keys[i] = p.hash(text)
		if e, ok := p.cache.Get(keys[i]); ok && e.text == text {
			out[i] = e.vector
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	workers := min(len(p.services), len(missing))
	per := (len(missing) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * per
		if start >= len(missing) {
			break
		}
		part := missing[start:min(start+per, len(missing))]
		svc := p.services[w]

		g.Go(func() error {
			batch := make([]string, len(part))
			for j, idx := range part {
				batch[j] = texts[idx]
			}
			vecs, err := svc.EmbedBatch(gctx, batch)
			if err != nil {
				return err
			}
			if err := checkCount(vecs, len(batch)); err != nil {
				return err
			}
			// Each goroutine writes a disjoint set of indexes
			for j, idx := range part {
				out[idx] = vecs[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, idx := range missing {
		p.cache.Add(keys[idx], cacheEntry{text: texts[idx], vector: out[idx]})
	}
	return out, nil
}

// EmbedQuery embeds a query with the first service. Queries bypass the cache
// since they use a different task prefix.
func (p *Pool) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.services[0].EmbedQuery(ctx, text)
}

func (p *Pool) Dimensions() int    { return p.services[0].Dimensions() }
func (p *Pool) Provider() Provider { return p.services[0].Provider() }
func (p *Pool) ModelName() string  { return p.services[0].ModelName() }

// Size returns the number of service instances.
func (p *Pool) Size() int { return len(p.services) }

// CacheLen returns the number of cached vectors.
func (p *Pool) CacheLen() int { return p.cache.Len() }
