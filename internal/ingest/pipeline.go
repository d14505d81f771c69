// Package ingest runs the indexing pipeline: discover logs, resume each file
// from its stored cursor, index records, embed them and checkpoint.
package ingest

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/fs"
	"github.com/nickcecere/memex/internal/progress"
	"github.com/nickcecere/memex/internal/source"
	"github.com/nickcecere/memex/internal/state"
	"github.com/nickcecere/memex/internal/store"
	"github.com/nickcecere/memex/internal/vector"
)

// Options configures one ingest run.
type Options struct {
	// Kinds limits the run to these sources. Empty means every enabled source.
	Kinds []source.Kind

	// NoEmbed indexes text only.
	NoEmbed bool

	// Output receives the progress display. Nil discards it.
	Output io.Writer
}

// Summary reports what a run did.
type Summary struct {
	FilesDiscovered   int
	FilesSkipped      int
	FilesProcessed    int
	FilesFailed       int
	RecordsIndexed    uint64
	Embedded          uint64
	EmbeddingsEnabled bool
	Model             string
	Interrupted       bool
	Stats             []progress.Stats
	Duration          time.Duration
}

// Pipeline orchestrates ingestion into the record store and vector index.
type Pipeline struct {
	cfg         *config.Config
	store       store.Store
	newEmbedder EmbedderFactory
}

// New creates a pipeline. newEmbedder may be nil to disable embeddings.
func New(cfg *config.Config, st store.Store, newEmbedder EmbedderFactory) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       st,
		newEmbedder: newEmbedder,
	}
}

// DefaultEmbedderFactory builds a worker pool from the embeddings config.
func DefaultEmbedderFactory(cfg config.EmbeddingsConfig) EmbedderFactory {
	return func(computeUnits string) (embeddings.Service, error) {
		c := cfg
		if computeUnits != "" {
			c.ComputeUnits = computeUnits
		}
		return embeddings.NewPoolFromConfig(c)
	}
}

// Run performs one ingest pass. Cancelling ctx stops new files from being
// started; work already read is indexed and checkpointed before Run returns.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()

	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = p.cfg.EnabledKinds()
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	found, err := fs.DiscoverSources(p.cfg.SourcePaths(), kinds)
	if err != nil {
		return nil, fmt.Errorf("failed to discover logs: %w", err)
	}

	st, err := state.Load(p.cfg.StatePath())
	if err != nil {
		return nil, err
	}
	if err := p.reconcileDocIDs(st); err != nil {
		return nil, err
	}

	wp := planWork(st, found, kinds)
	log.Debug("Planned ingest", "discovered", wp.discovered, "skipped", wp.skipped, "files", len(wp.items))

	summary := &Summary{
		FilesDiscovered: wp.discovered,
		FilesSkipped:    wp.skipped,
	}

	var svc embeddings.Service
	embed := p.cfg.Embeddings.Enabled && !opts.NoEmbed && p.newEmbedder != nil
	if embed {
		svc, err = p.newEmbedder("")
		if err != nil {
			log.Warn("Embeddings disabled", "error", err)
			embed = false
		} else {
			summary.Model = svc.ModelName()
		}
	}

	prog := progress.New(wp.totalBytes, wp.filesTotal, embed)
	groups := displayGroups(kinds)

	if len(wp.items) == 0 && (!embed || p.fullyEmbedded(svc.ModelName())) {
		log.Debug("Nothing to ingest")
		summary.EmbeddingsEnabled = embed
		summary.Stats = prog.Snapshot(groups)
		summary.Duration = time.Since(start)
		return summary, nil
	}

	if progress.IsTerminal(out) {
		defer quietLogs()()
	}
	reporter := progress.Start(prog, out, groups)

	c := &coordinator{
		cfg:     p.cfg,
		store:   p.store,
		state:   st,
		prog:    prog,
		summary: summary,
		embedOn: embed,
		queued:  make(map[uint64]struct{}),
	}
	runErr := c.run(ctx, wp.items, svc, p.newEmbedder)

	prog.Finish()
	reporter.Wait()

	summary.EmbeddingsEnabled = c.embedOn || c.summary.Embedded > 0
	summary.Interrupted = ctx.Err() != nil
	summary.Stats = prog.Snapshot(groups)
	summary.Duration = time.Since(start)
	return summary, runErr
}

// reconcileDocIDs moves the allocator past IDs already in the store. A crash
// between a store commit and a state checkpoint would otherwise hand out
// those IDs again.
func (p *Pipeline) reconcileDocIDs(st *state.IngestState) error {
	stats, err := p.store.Stats()
	if err != nil {
		return err
	}
	if stats.MaxDocID >= st.NextDocID {
		log.Debug("Advancing doc id allocator past stored records", "from", st.NextDocID, "to", stats.MaxDocID+1)
		st.NextDocID = stats.MaxDocID + 1
	}
	return nil
}

// fullyEmbedded reports whether the model's index holds a vector for every
// stored record.
func (p *Pipeline) fullyEmbedded(model string) bool {
	idx, err := vector.Open(p.cfg.VectorDir(model))
	if err != nil {
		return false
	}
	stats, err := p.store.Stats()
	if err != nil {
		return false
	}
	return idx.Len() >= stats.Records
}

// quietLogs raises the log level to warn while the progress display owns the
// terminal, and returns a func restoring the previous level.
func quietLogs() func() {
	prev := log.GetLevel()
	if prev >= log.WarnLevel {
		return func() {}
	}
	log.SetLevel(log.WarnLevel)
	return func() { log.SetLevel(prev) }
}

// startParsers runs parse workers over items and closes out when all are done.
func startParsers(ctx context.Context, items []workItem, workers int, prog *progress.Progress, out chan<- batch) *atomic.Int64 {
	failed := &atomic.Int64{}

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(max(workers, 1))
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if !parseFile(ctx, item, prog, out) {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return failed
}
