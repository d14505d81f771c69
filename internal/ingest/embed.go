package ingest

import (
	"context"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/source"
)

// EmbedderFactory builds an embedding service. computeUnits overrides the
// configured value when non-empty; the pipeline passes "cpu" when retrying
// after a failed start.
type EmbedderFactory func(computeUnits string) (embeddings.Service, error)

// embedJob is one record waiting for a vector.
type embedJob struct {
	docID uint64
	kind  source.Kind
	text  string
}

// embedResult carries vectors for a dispatched slice of jobs, in job order.
type embedResult struct {
	jobs []embedJob
	vecs [][]float32
	err  error
}

// embedReady reports the outcome of embedder start-up.
type embedReady struct {
	svc  embeddings.Service
	dims int
	err  error
}

// startEmbedder warms svc and, if that fails, retries once on CPU. The result
// is delivered on the returned channel so the coordinator keeps indexing while
// the model loads.
func startEmbedder(ctx context.Context, svc embeddings.Service, computeUnits string, factory EmbedderFactory) <-chan embedReady {
	ch := make(chan embedReady, 1)
	go func() {
		dims, err := embeddings.Warm(ctx, svc)
		if err != nil && computeUnits != "cpu" && ctx.Err() == nil {
			log.Warn("Embedder failed to start, retrying on CPU", "model", svc.ModelName(), "error", err)
			var cpu embeddings.Service
			cpu, err = factory("cpu")
			if err == nil {
				svc = cpu
				dims, err = embeddings.Warm(ctx, svc)
			}
		}
		ch <- embedReady{svc: svc, dims: dims, err: err}
	}()
	return ch
}

// runEmbedWorker serves job slices until jobs is closed.
func runEmbedWorker(ctx context.Context, svc embeddings.Service, jobs <-chan []embedJob, results chan<- embedResult) {
	for js := range jobs {
		texts := make([]string, len(js))
		for i, j := range js {
			texts[i] = j.text
		}
		vecs, err := svc.EmbedBatch(ctx, texts)
		results <- embedResult{jobs: js, vecs: vecs, err: err}
	}
}

// truncateRunes cuts s to at most n runes. n <= 0 disables truncation.
func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
