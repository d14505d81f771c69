// Package progress aggregates per-source pipeline counters and draws them
// to a terminal.
//
// Counters are independent atomics written by many goroutines and read by
// one renderer. Reads across counters are not a consistent snapshot; the
// renderer only needs values that trend in the right direction.
package progress

import (
	"sync/atomic"

	"github.com/nickcecere/memex/internal/source"
)

// Progress holds live counters for one ingest run.
type Progress struct {
	totalBytes [source.Count]uint64
	filesTotal [source.Count]uint64

	parsedBytes  [source.Count]atomic.Uint64
	filesDone    [source.Count]atomic.Uint64
	produced     [source.Count]atomic.Uint64
	indexed      [source.Count]atomic.Uint64
	embedded     [source.Count]atomic.Uint64
	embedPending [source.Count]atomic.Int64
	embedTotal   [source.Count]atomic.Uint64

	embeddings atomic.Bool
	embedReady atomic.Bool
	done       atomic.Bool
}

// New creates counters with the byte and file totals known before work starts.
func New(totalBytes, filesTotal [source.Count]uint64, embeddings bool) *Progress {
	p := &Progress{
		totalBytes: totalBytes,
		filesTotal: filesTotal,
	}
	p.embeddings.Store(embeddings)
	return p
}

func (p *Progress) AddParsedBytes(k source.Kind, n uint64) { p.parsedBytes[k.Index()].Add(n) }
func (p *Progress) AddFilesDone(k source.Kind, n uint64)   { p.filesDone[k.Index()].Add(n) }
func (p *Progress) AddProduced(k source.Kind, n uint64)    { p.produced[k.Index()].Add(n) }
func (p *Progress) AddIndexed(k source.Kind, n uint64)     { p.indexed[k.Index()].Add(n) }
func (p *Progress) AddEmbedTotal(k source.Kind, n uint64)  { p.embedTotal[k.Index()].Add(n) }
func (p *Progress) AddEmbedded(k source.Kind, n uint64)    { p.embedded[k.Index()].Add(n) }

func (p *Progress) AddEmbedPending(k source.Kind, n uint64) {
	p.embedPending[k.Index()].Add(int64(n))
}

func (p *Progress) SubEmbedPending(k source.Kind, n uint64) {
	p.embedPending[k.Index()].Add(-int64(n))
}

// SetEmbedReady marks the embedding subsystem as warmed up.
func (p *Progress) SetEmbedReady() { p.embedReady.Store(true) }

// SetEmbeddingsEnabled toggles the embedding stage, e.g. after an init failure.
func (p *Progress) SetEmbeddingsEnabled(enabled bool) { p.embeddings.Store(enabled) }

// Finish signals the renderer to draw a final frame and exit.
func (p *Progress) Finish() { p.done.Store(true) }

// Done reports whether Finish was called.
func (p *Progress) Done() bool { return p.done.Load() }

// Stats is a point-in-time view of one display group.
type Stats struct {
	Title             string
	Parsed            uint64
	Total             uint64
	FilesDone         uint64
	FilesTotal        uint64
	Produced          uint64
	Indexed           uint64
	Embedded          uint64
	EmbedTotal        uint64
	Pending           uint64
	EmbeddingsEnabled bool
	EmbedReady        bool
}

// Snapshot sums counters over the kinds of each group.
func (p *Progress) Snapshot(groups []source.Group) []Stats {
	enabled := p.embeddings.Load()
	ready := p.embedReady.Load()

	out := make([]Stats, 0, len(groups))
	for _, g := range groups {
		s := Stats{
			Title:             g.Title,
			EmbeddingsEnabled: enabled,
			EmbedReady:        ready,
		}
		var pending int64
		for _, k := range g.Kinds {
			i := k.Index()
			s.Parsed += p.parsedBytes[i].Load()
			s.Total += p.totalBytes[i]
			s.FilesDone += p.filesDone[i].Load()
			s.FilesTotal += p.filesTotal[i]
			s.Produced += p.produced[i].Load()
			s.Indexed += p.indexed[i].Load()
			s.Embedded += p.embedded[i].Load()
			s.EmbedTotal += p.embedTotal[i].Load()
			pending += p.embedPending[i].Load()
		}
		if pending > 0 {
			s.Pending = uint64(pending)
		}
		out = append(out, s)
	}
	return out
}
