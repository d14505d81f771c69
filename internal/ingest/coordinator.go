package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/progress"
	"github.com/nickcecere/memex/internal/source"
	"github.com/nickcecere/memex/internal/state"
	"github.com/nickcecere/memex/internal/store"
	"github.com/nickcecere/memex/internal/vector"
)

// coordinator is the single owner of the ingest state and the vector index.
// Parsers and embed workers only talk to it through channels.
type coordinator struct {
	cfg     *config.Config
	store   store.Store
	state   *state.IngestState
	index   *vector.Index
	prog    *progress.Progress
	summary *Summary

	embedOn  bool
	ready    bool
	pending  []embedJob
	queued   map[uint64]struct{}
	inflight int

	dirty int
	fatal error
}

func (c *coordinator) run(ctx context.Context, items []workItem, svc embeddings.Service, factory EmbedderFactory) error {
	parseCtx, cancelParse := context.WithCancel(ctx)
	defer cancelParse()

	batches := make(chan batch, max(c.cfg.Ingest.ParseWorkers, 1)*2)
	failed := startParsers(parseCtx, items, c.cfg.Ingest.ParseWorkers, c.prog, batches)

	var (
		batchCh    <-chan batch = batches
		readyCh    <-chan embedReady
		jobs       = make(chan []embedJob)
		results    = make(chan embedResult)
		workerDone chan struct{}
		done       = ctx.Done()
	)
	if c.embedOn {
		readyCh = startEmbedder(ctx, svc, c.cfg.Embeddings.ComputeUnits, factory)
	}

	ticker := time.NewTicker(c.cfg.Ingest.CheckpointInterval)
	defer ticker.Stop()

	batchSize := max(c.cfg.Embeddings.BatchSize, 1)

	for {
		interrupted := ctx.Err() != nil
		if batchCh == nil && c.inflight == 0 && (!c.embedOn || interrupted || (c.ready && len(c.pending) == 0)) {
			break
		}

		// A nil channel disables the send case until there is work to hand out
		var sendJobs chan<- []embedJob
		var next []embedJob
		if c.embedOn && c.ready && !interrupted && len(c.pending) > 0 {
			next = c.pending[:min(len(c.pending), batchSize)]
			sendJobs = jobs
		}

		select {
		case b, ok := <-batchCh:
			if !ok {
				batchCh = nil
				continue
			}
			c.handleBatch(b)
			if c.fatal != nil {
				cancelParse()
			}

		case r := <-readyCh:
			readyCh = nil
			c.handleReady(r)
			if c.ready {
				workerDone = make(chan struct{})
				go func() {
					defer close(workerDone)
					runEmbedWorker(ctx, r.svc, jobs, results)
				}()
			}

		case sendJobs <- next:
			c.pending = c.pending[len(next):]
			c.inflight++

		case res := <-results:
			c.inflight--
			c.handleResult(ctx, res)

		case <-ticker.C:
			if err := c.checkpoint(); err != nil {
				log.Warn("Checkpoint failed", "error", err)
			}

		case <-done:
			done = nil
			cancelParse()
			log.Info("Interrupted, saving progress")
		}

		if n := c.cfg.Ingest.CheckpointRecords; n > 0 && c.dirty >= n {
			if err := c.checkpoint(); err != nil {
				log.Warn("Checkpoint failed", "error", err)
			}
		}
	}

	close(jobs)
	if workerDone != nil {
		<-workerDone
	}

	c.summary.FilesFailed = int(failed.Load())
	c.summary.FilesProcessed = len(items) - c.summary.FilesFailed

	if err := c.checkpoint(); err != nil && c.fatal == nil {
		c.fatal = err
	}
	return c.fatal
}

// handleBatch indexes a parser batch, then advances the file cursor.
func (c *coordinator) handleBatch(b batch) {
	if c.fatal != nil {
		return
	}

	if len(b.records) > 0 {
		ids, err := c.store.IndexRecords(b.records, c.state.AllocDocID)
		if err != nil {
			c.fail(fmt.Errorf("failed to index records from %s: %w", b.path, err))
			return
		}
		c.prog.AddIndexed(b.kind, uint64(len(ids)))
		c.summary.RecordsIndexed += uint64(len(ids))
		c.dirty += len(ids)

		if c.embedOn {
			for i, id := range ids {
				if c.index != nil && c.index.Contains(id) {
					continue
				}
				c.enqueue(id, b.kind, b.records[i].Text)
			}
		}
	}

	if len(b.records) == 0 && !b.final && b.cursor == b.from {
		return
	}

	fs := state.FileState{
		Size:   b.cursor.Offset,
		Mtime:  b.mtime,
		Offset: b.cursor.Offset,
		TurnID: b.cursor.TurnID,
	}
	if b.final {
		fs.Size = b.size
	}
	c.state.Advance(b.path, fs)
}

// handleReady opens the model's vector index and queues every stored record
// that has no vector yet.
func (c *coordinator) handleReady(r embedReady) {
	if r.err != nil {
		log.Warn("Embeddings disabled for this run", "error", r.err)
		c.disableEmbeddings()
		return
	}
	if !c.embedOn {
		return
	}

	idx, err := vector.OpenOrCreate(c.cfg.VectorDir(r.svc.ModelName()), r.dims)
	if err != nil {
		c.fail(fmt.Errorf("failed to open vector index: %w", err))
		return
	}
	c.index = idx
	c.ready = true
	c.summary.Model = r.svc.ModelName()
	c.prog.SetEmbedReady()
	log.Debug("Embedder ready", "model", r.svc.ModelName(), "dims", r.dims, "vectors", idx.Len())

	// Records indexed before start-up may already have vectors from a past run
	kept := c.pending[:0]
	for _, j := range c.pending {
		if idx.Contains(j.docID) {
			c.prog.SubEmbedPending(j.kind, 1)
			c.prog.AddEmbedded(j.kind, 1)
			continue
		}
		kept = append(kept, j)
	}
	c.pending = kept

	c.backfill()
}

func (c *coordinator) backfill() {
	var n int
	err := c.store.ForEachRecord(func(r store.Record) error {
		if c.index.Contains(r.DocID) {
			return nil
		}
		if _, ok := c.queued[r.DocID]; ok {
			return nil
		}
		c.enqueue(r.DocID, r.Source, r.Text)
		n++
		return nil
	})
	if err != nil {
		log.Warn("Failed to scan records for missing vectors", "error", err)
	}
	if n > 0 {
		log.Debug("Backfilling vectors", "records", n)
	}
}

func (c *coordinator) enqueue(docID uint64, kind source.Kind, text string) {
	if _, ok := c.queued[docID]; ok {
		return
	}
	c.queued[docID] = struct{}{}
	c.pending = append(c.pending, embedJob{
		docID: docID,
		kind:  kind,
		text:  truncateRunes(text, c.cfg.Ingest.MaxTextChars),
	})
	c.prog.AddEmbedTotal(kind, 1)
	c.prog.AddEmbedPending(kind, 1)
}

func (c *coordinator) handleResult(ctx context.Context, res embedResult) {
	for _, j := range res.jobs {
		c.prog.SubEmbedPending(j.kind, 1)
	}

	if res.err != nil {
		if ctx.Err() != nil && errors.Is(res.err, ctx.Err()) {
			return
		}
		log.Warn("Embedding failed, continuing without embeddings", "error", res.err)
		c.disableEmbeddings()
		return
	}

	for i, j := range res.jobs {
		if err := c.index.Add(j.docID, res.vecs[i]); err != nil {
			log.Warn("Failed to store vector", "doc_id", j.docID, "error", err)
			c.disableEmbeddings()
			return
		}
		c.prog.AddEmbedded(j.kind, 1)
		c.summary.Embedded++
		c.dirty++
	}
}

// disableEmbeddings stops embedding for the rest of the run. Records left
// without vectors are picked up by the next run's backfill.
func (c *coordinator) disableEmbeddings() {
	if !c.embedOn {
		return
	}
	c.embedOn = false
	for _, j := range c.pending {
		c.prog.SubEmbedPending(j.kind, 1)
	}
	c.pending = nil
	c.prog.SetEmbeddingsEnabled(false)
}

func (c *coordinator) fail(err error) {
	if c.fatal == nil {
		c.fatal = err
	}
	c.disableEmbeddings()
}

// checkpoint persists vectors before state, so a saved cursor never points
// past records whose vectors were lost.
func (c *coordinator) checkpoint() error {
	if c.index != nil {
		if err := c.index.Save(); err != nil {
			return fmt.Errorf("failed to save vector index: %w", err)
		}
	}
	if err := c.state.Save(c.cfg.StatePath()); err != nil {
		return err
	}
	log.Debug("Checkpoint saved", "next_doc_id", c.state.NextDocID, "files", len(c.state.Files))
	c.dirty = 0
	return nil
}
