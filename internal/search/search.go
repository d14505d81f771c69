// Package search answers queries over the archive, semantically through the
// vector index or by keyword through the record store.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/source"
	"github.com/nickcecere/memex/internal/store"
	"github.com/nickcecere/memex/internal/vector"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Searcher provides search over one record store and, optionally, one
// vector index.
type Searcher struct {
	store    store.Store
	embedder embeddings.Service
	index    *vector.Index
}

// Result represents a matching conversation message.
type Result struct {
	DocID     uint64      `json:"doc_id"`
	Source    source.Kind `json:"source"`
	Path      string      `json:"path"`
	SessionID string      `json:"session_id"`
	TurnID    uint32      `json:"turn_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`

	// Similarity information, semantic search only
	Distance float64 `json:"distance"` // cosine distance
	Score    float64 `json:"score"`    // 1 - distance, higher is better
}

// Options configures a search.
type Options struct {
	// Limit is the maximum number of results to return.
	Limit int

	// Kinds restricts results to these sources. Empty matches all.
	Kinds []source.Kind

	// MinScore filters semantic results below this similarity score.
	MinScore float64
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Limit: 10,
	}
}

// New creates a Searcher. emb and idx may be nil when only keyword search
// is needed.
func New(st store.Store, emb embeddings.Service, idx *vector.Index) *Searcher {
	return &Searcher{
		store:    st,
		embedder: emb,
		index:    idx,
	}
}

// Semantic embeds query and returns the nearest stored messages.
func (s *Searcher) Semantic(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if s.embedder == nil || s.index == nil {
		return nil, fmt.Errorf("semantic search needs an embedder and a vector index")
	}

	limit := limitOrDefault(opts.Limit)

	log.Debug("Generating query embedding", "query", truncate(query, 50))
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// The source filter is applied after the scan, so widen it to every vector
	candidates := limit
	if len(opts.Kinds) > 0 {
		candidates = max(s.index.Len(), limit)
	}

	log.Debug("Searching vector index", "dir", s.index.Dir(), "vectors", s.index.Len(), "candidates", candidates)
	hits, err := s.index.Search(queryEmbedding, candidates)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	records, err := s.store.GetRecords(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	var results []Result
	for _, h := range hits {
		rec, ok := records[h.DocID]
		if !ok {
			log.Debug("Vector without record", "doc_id", h.DocID)
			continue
		}
		if !matchesKind(rec.Source, opts.Kinds) {
			continue
		}

		r := fromRecord(rec)
		r.Distance = float64(h.Distance)
		r.Score = 1 - r.Distance
		if r.Score < opts.MinScore {
			// Hits are nearest first, nothing after this scores higher
			break
		}

		results = append(results, r)
		if len(results) == limit {
			break
		}
	}

	log.Debug("Search complete", "results", len(results))
	return results, nil
}

// Keyword returns messages containing every term of query, newest first.
func (s *Searcher) Keyword(query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	records, err := s.store.SearchText(query, limitOrDefault(opts.Limit), opts.Kinds)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]Result, 0, len(records))
	for _, rec := range records {
		results = append(results, fromRecord(rec))
	}
	return results, nil
}

func fromRecord(rec store.Record) Result {
	return Result{
		DocID:     rec.DocID,
		Source:    rec.Source,
		Path:      rec.Path,
		SessionID: rec.SessionID,
		TurnID:    rec.TurnID,
		Role:      rec.Role,
		Text:      rec.Text,
		Timestamp: rec.Timestamp,
	}
}

func matchesKind(k source.Kind, kinds []source.Kind) bool {
	return len(kinds) == 0 || slices.Contains(kinds, k)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultOptions().Limit
	}
	return limit
}

// truncate shortens a string for display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
