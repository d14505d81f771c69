package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/fs"
	"github.com/nickcecere/memex/internal/parser"
	"github.com/nickcecere/memex/internal/source"
	"github.com/nickcecere/memex/internal/state"
	"github.com/nickcecere/memex/internal/store"
	"github.com/nickcecere/memex/internal/vector"
)

// fakeService returns a small deterministic vector per text.
type fakeService struct {
	model     string
	calls     atomic.Int64
	failAfter int64 // calls beyond this fail; 0 never fails
	failWarm  bool
}

var _ embeddings.Service = (*fakeService)(nil)

func (f *fakeService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := f.calls.Add(1)
	if f.failWarm || (f.failAfter > 0 && n > f.failAfter) {
		return nil, errors.New("embedder unavailable")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	return vecs, nil
}

func (f *fakeService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeService) Dimensions() int { return 4 }

func (f *fakeService) Provider() embeddings.Provider { return embeddings.ProviderOllama }

func (f *fakeService) ModelName() string { return f.model }

// fakeFactory records the compute units it was asked for.
type fakeFactory struct {
	mu    sync.Mutex
	units []string
	build func(units string) (embeddings.Service, error)
}

func (f *fakeFactory) New(units string) (embeddings.Service, error) {
	f.mu.Lock()
	f.units = append(f.units, units)
	f.mu.Unlock()
	return f.build(units)
}

func (f *fakeFactory) Units() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.units...)
}

func workingFactory() *fakeFactory {
	return &fakeFactory{build: func(string) (embeddings.Service, error) {
		return &fakeService{model: "fake-embed"}, nil
	}}
}

type fixture struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	claude  string
	session string
	history string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.Sources.Claude.Root = filepath.Join(root, "claude")
	cfg.Sources.Codex.SessionsRoot = filepath.Join(root, "codex", "sessions")
	cfg.Sources.Codex.HistoryFile = filepath.Join(root, "codex", "history.jsonl")
	cfg.Ingest.ParseWorkers = 2
	cfg.Embeddings.BatchSize = 2

	st, err := store.NewSQLiteStore(cfg.RecordsPath())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		cfg:     cfg,
		store:   st,
		claude:  filepath.Join(cfg.Sources.Claude.Root, "proj", "s1.jsonl"),
		session: filepath.Join(cfg.Sources.Codex.SessionsRoot, "2025", "rollout.jsonl"),
		history: cfg.Sources.Codex.HistoryFile,
	}
}

func (f *fixture) write(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644))
}

func (f *fixture) append(t *testing.T, path string, lines ...string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer file.Close()
	_, err = file.WriteString(strings.Join(lines, ""))
	require.NoError(t, err)
}

func (f *fixture) run(t *testing.T, factory EmbedderFactory, opts Options) *Summary {
	t.Helper()
	sum, err := New(f.cfg, f.store, factory).Run(context.Background(), opts)
	require.NoError(t, err)
	return sum
}

func (f *fixture) records(t *testing.T) int {
	t.Helper()
	stats, err := f.store.Stats()
	require.NoError(t, err)
	return stats.Records
}

func (f *fixture) vectors(t *testing.T) int {
	t.Helper()
	idx, err := vector.Open(f.cfg.VectorDir("fake-embed"))
	require.NoError(t, err)
	return idx.Len()
}

func (f *fixture) fileState(t *testing.T, path string) state.FileState {
	t.Helper()
	st, err := state.Load(f.cfg.StatePath())
	require.NoError(t, err)
	fst, ok := st.Lookup(path)
	require.True(t, ok, "no state for %s", path)
	return fst
}

func claudeLine(role, text string) string {
	return `{"type":"` + role + `","sessionId":"s1","timestamp":"2025-01-02T03:04:05Z","message":{"role":"` + role + `","content":"` + text + `"}}` + "\n"
}

const (
	sessionMeta = `{"type":"session_meta","payload":{"id":"c1"}}` + "\n"
	sessionItem = `{"type":"response_item","timestamp":"2025-01-03T00:00:00Z","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"fix the build"}]}}` + "\n"
	historyLine = `{"session_id":"h1","ts":1700000000,"text":"ls -la"}` + "\n"
)

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.write(t, f.claude, claudeLine("user", "hello"), claudeLine("assistant", "hi there"), claudeLine("user", "bye"))
	f.write(t, f.session, sessionMeta, sessionItem)
	f.write(t, f.history, historyLine)
}

func TestRunIndexesAllSources(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	factory := workingFactory()
	sum := f.run(t, factory.New, Options{})

	assert.Equal(t, 3, sum.FilesDiscovered)
	assert.Equal(t, 3, sum.FilesProcessed)
	assert.Zero(t, sum.FilesFailed)
	assert.Equal(t, uint64(5), sum.RecordsIndexed)
	assert.Equal(t, uint64(5), sum.Embedded)
	assert.True(t, sum.EmbeddingsEnabled)
	assert.Equal(t, "fake-embed", sum.Model)
	assert.False(t, sum.Interrupted)

	assert.Equal(t, 5, f.records(t))
	assert.Equal(t, 5, f.vectors(t))

	info, err := os.Stat(f.claude)
	require.NoError(t, err)
	fst := f.fileState(t, f.claude)
	assert.Equal(t, uint64(info.Size()), fst.Offset)
	assert.Equal(t, uint64(info.Size()), fst.Size)
	assert.Equal(t, uint32(3), fst.TurnID)
	assert.Equal(t, info.ModTime().UnixNano(), fst.Mtime)

	require.Len(t, sum.Stats, 2)
	assert.Equal(t, "claude", sum.Stats[0].Title)
	assert.Equal(t, uint64(3), sum.Stats[0].Indexed)
	assert.Equal(t, uint64(2), sum.Stats[1].Indexed)
}

func TestRunSkipsUnchangedFiles(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	factory := workingFactory()
	f.run(t, factory.New, Options{})

	sum := f.run(t, factory.New, Options{})
	assert.Equal(t, 3, sum.FilesSkipped)
	assert.Zero(t, sum.FilesProcessed)
	assert.Zero(t, sum.RecordsIndexed)
	assert.Zero(t, sum.Embedded)
	assert.Equal(t, 5, f.records(t))
}

func TestRunResumesAppendedFile(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	factory := workingFactory()
	f.run(t, factory.New, Options{})

	f.append(t, f.claude, claudeLine("assistant", "one more"))
	sum := f.run(t, factory.New, Options{})

	assert.Equal(t, 1, sum.FilesProcessed)
	assert.Equal(t, 2, sum.FilesSkipped)
	assert.Equal(t, uint64(1), sum.RecordsIndexed)
	assert.Equal(t, uint64(1), sum.Embedded)
	assert.Equal(t, 6, f.records(t))
	assert.Equal(t, 6, f.vectors(t))
	assert.Equal(t, uint32(4), f.fileState(t, f.claude).TurnID)

	var turns []uint32
	require.NoError(t, f.store.ForEachRecord(func(r store.Record) error {
		if r.Path == f.claude {
			turns = append(turns, r.TurnID)
		}
		return nil
	}))
	assert.Equal(t, []uint32{0, 1, 2, 3}, turns)
}

func TestRunRestartsRewrittenFile(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	factory := workingFactory()
	f.run(t, factory.New, Options{})

	f.write(t, f.claude, claudeLine("user", "new"))
	sum := f.run(t, factory.New, Options{})

	assert.Equal(t, uint64(1), sum.RecordsIndexed)
	assert.Equal(t, 6, f.records(t))
	fst := f.fileState(t, f.claude)
	assert.Equal(t, uint32(1), fst.TurnID)
	assert.Equal(t, fst.Size, fst.Offset)
}

func TestRunLeavesPartialLine(t *testing.T) {
	f := newFixture(t)
	full := claudeLine("user", "complete")
	partial := claudeLine("assistant", "half written")
	f.write(t, f.claude, full, partial[:20])
	factory := workingFactory()

	sum := f.run(t, factory.New, Options{Kinds: []source.Kind{source.Claude}})
	assert.Equal(t, uint64(1), sum.RecordsIndexed)
	fst := f.fileState(t, f.claude)
	assert.Equal(t, uint64(len(full)), fst.Offset)
	assert.Equal(t, uint64(len(full)+20), fst.Size)

	sum = f.run(t, factory.New, Options{Kinds: []source.Kind{source.Claude}})
	assert.Equal(t, 1, sum.FilesSkipped)

	f.append(t, f.claude, partial[20:])
	sum = f.run(t, factory.New, Options{Kinds: []source.Kind{source.Claude}})
	assert.Equal(t, uint64(1), sum.RecordsIndexed)
	assert.Equal(t, 2, f.records(t))
	assert.Equal(t, uint64(len(full)+len(partial)), f.fileState(t, f.claude).Offset)
}

func TestRunKindsFilter(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	sum := f.run(t, workingFactory().New, Options{Kinds: []source.Kind{source.CodexHistory}})
	assert.Equal(t, 1, sum.FilesDiscovered)
	assert.Equal(t, uint64(1), sum.RecordsIndexed)
	require.Len(t, sum.Stats, 1)
	assert.Equal(t, "codex", sum.Stats[0].Title)
}

func TestRunNoEmbedThenBackfill(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	factory := workingFactory()

	sum := f.run(t, factory.New, Options{NoEmbed: true})
	assert.Equal(t, uint64(5), sum.RecordsIndexed)
	assert.Zero(t, sum.Embedded)
	assert.False(t, sum.EmbeddingsEnabled)
	assert.Empty(t, factory.Units())
	_, err := os.Stat(f.cfg.VectorDir("fake-embed"))
	assert.True(t, os.IsNotExist(err))

	sum = f.run(t, factory.New, Options{})
	assert.Equal(t, 3, sum.FilesSkipped)
	assert.Equal(t, uint64(5), sum.Embedded)
	assert.Equal(t, 5, f.vectors(t))

	// Fully embedded and nothing new: no further embedding work
	sum = f.run(t, factory.New, Options{})
	assert.Zero(t, sum.Embedded)
}

func TestRunNilFactoryIndexesText(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	sum := f.run(t, nil, Options{})
	assert.Equal(t, uint64(5), sum.RecordsIndexed)
	assert.False(t, sum.EmbeddingsEnabled)
}

func TestRunRetriesEmbedderOnCPU(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	factory := &fakeFactory{build: func(units string) (embeddings.Service, error) {
		return &fakeService{model: "fake-embed", failWarm: units != "cpu"}, nil
	}}
	sum := f.run(t, factory.New, Options{})

	assert.Equal(t, []string{"", "cpu"}, factory.Units())
	assert.Equal(t, uint64(5), sum.Embedded)
	assert.True(t, sum.EmbeddingsEnabled)
}

func TestRunEmbedderStartFailureKeepsIndexing(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	factory := &fakeFactory{build: func(string) (embeddings.Service, error) {
		return &fakeService{model: "fake-embed", failWarm: true}, nil
	}}
	sum := f.run(t, factory.New, Options{})

	assert.Equal(t, uint64(5), sum.RecordsIndexed)
	assert.Zero(t, sum.Embedded)
	assert.False(t, sum.EmbeddingsEnabled)
	assert.Equal(t, 5, f.records(t))
}

func TestRunFactoryErrorKeepsIndexing(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	factory := &fakeFactory{build: func(string) (embeddings.Service, error) {
		return nil, errors.New("no provider")
	}}
	sum := f.run(t, factory.New, Options{})
	assert.Equal(t, uint64(5), sum.RecordsIndexed)
	assert.False(t, sum.EmbeddingsEnabled)
}

func TestRunDisablesEmbeddingsAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	// Warm-up succeeds, every batch after it fails
	failing := &fakeFactory{build: func(string) (embeddings.Service, error) {
		return &fakeService{model: "fake-embed", failAfter: 1}, nil
	}}
	sum := f.run(t, failing.New, Options{})
	assert.Equal(t, uint64(5), sum.RecordsIndexed)
	assert.Zero(t, sum.Embedded)
	assert.False(t, sum.EmbeddingsEnabled)

	// The next healthy run fills in the missing vectors
	sum = f.run(t, workingFactory().New, Options{})
	assert.Equal(t, uint64(5), sum.Embedded)
	assert.Equal(t, 5, f.vectors(t))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := New(f.cfg, f.store, workingFactory().New).Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)

	// Nothing was committed past what was indexed; a fresh run finishes the job
	sum = f.run(t, workingFactory().New, Options{})
	assert.False(t, sum.Interrupted)
	assert.Equal(t, 5, f.records(t))
	assert.Equal(t, 5, f.vectors(t))
}

func TestRunLostStateReusesStoredIDs(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.run(t, nil, Options{})
	require.NoError(t, os.Remove(f.cfg.StatePath()))

	f.append(t, f.history, `{"session_id":"h1","ts":1700000100,"text":"pwd"}`+"\n")
	f.run(t, nil, Options{})

	assert.Equal(t, 6, f.records(t))
	stats, err := f.store.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), stats.MaxDocID)

	st, err := state.Load(f.cfg.StatePath())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), st.NextDocID)
}

func TestRunCheckpointsByRecordCount(t *testing.T) {
	f := newFixture(t)
	f.cfg.Ingest.CheckpointRecords = 1
	f.seed(t)

	f.run(t, workingFactory().New, Options{})
	assert.Equal(t, 5, f.records(t))
	assert.Equal(t, 5, f.vectors(t))
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in       string
		n        int
		expected string
	}{
		{"hello", 0, "hello"},
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"日本語テキスト", 3, "日本語"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, truncateRunes(tt.in, tt.n), "truncateRunes(%q, %d)", tt.in, tt.n)
	}
}

func TestPlanWork(t *testing.T) {
	now := time.Unix(1700000000, 0)
	st := state.New()
	st.Advance("/a", state.FileState{Size: 10, Mtime: now.UnixNano(), Offset: 10, TurnID: 2})
	st.Advance("/b", state.FileState{Size: 10, Mtime: now.UnixNano(), Offset: 8, TurnID: 1})

	found := map[source.Kind][]fs.FileInfo{
		source.Claude: {
			{Kind: source.Claude, Path: "/a", Size: 10, ModTime: now},
			{Kind: source.Claude, Path: "/b", Size: 30, ModTime: now},
		},
		source.CodexSession: {{Kind: source.CodexSession, Path: "/s", Size: 7, ModTime: now}},
		source.CodexHistory: {{Kind: source.CodexHistory, Path: "/h", Size: 5, ModTime: now}},
	}
	wp := planWork(st, found, []source.Kind{source.Claude, source.CodexHistory})

	assert.Equal(t, 3, wp.discovered)
	assert.Equal(t, 1, wp.skipped)
	require.Len(t, wp.items, 2)

	assert.Equal(t, "/b", wp.items[0].file.Path)
	assert.Equal(t, state.ActionResume, wp.items[0].action)
	assert.Equal(t, parser.Cursor{Offset: 8, TurnID: 1}, wp.items[0].from)
	assert.Equal(t, uint64(22), wp.items[0].remaining())

	assert.Equal(t, "/h", wp.items[1].file.Path)
	assert.Equal(t, state.ActionRestart, wp.items[1].action)

	assert.Equal(t, uint64(22), wp.totalBytes[source.Claude.Index()])
	assert.Equal(t, uint64(5), wp.totalBytes[source.CodexHistory.Index()])
	assert.Zero(t, wp.totalBytes[source.CodexSession.Index()])
	assert.Equal(t, uint64(1), wp.filesTotal[source.Claude.Index()])
}

func TestDisplayGroups(t *testing.T) {
	groups := displayGroups([]source.Kind{source.CodexHistory})
	require.Len(t, groups, 1)
	assert.Equal(t, "codex", groups[0].Title)

	assert.Len(t, displayGroups([]source.Kind{source.Claude, source.CodexSession}), 2)
	assert.Empty(t, displayGroups(nil))
}
