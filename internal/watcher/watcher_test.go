package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/memex/internal/fs"
	"github.com/nickcecere/memex/internal/source"
)

func startWatcher(t *testing.T, paths fs.SourcePaths, kinds []source.Kind) (*Watcher, <-chan []string) {
	t.Helper()
	changes := make(chan []string, 16)
	w := New(paths, kinds, func(_ context.Context, p []string) {
		changes <- p
	}, WithDebounceTime(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		err := <-errCh
		assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	})

	select {
	case <-w.ready:
	case err := <-errCh:
		t.Fatalf("watcher failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
	return w, changes
}

func waitChange(t *testing.T, changes <-chan []string) []string {
	t.Helper()
	select {
	case p := <-changes:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
		return nil
	}
}

func TestWatcherReportsLogWrites(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))

	_, changes := startWatcher(t, fs.SourcePaths{ClaudeRoot: root}, []source.Kind{source.Claude})

	logPath := filepath.Join(project, "session.jsonl")
	require.NoError(t, os.WriteFile(filepath.Join(project, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0o644))

	assert.Equal(t, []string{logPath}, waitChange(t, changes))
}

func TestWatcherIgnoresExistingLogs(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "old.jsonl"), []byte("{}\n"), 0o644))

	_, changes := startWatcher(t, fs.SourcePaths{ClaudeRoot: root}, []source.Kind{source.Claude})

	select {
	case p := <-changes:
		t.Fatalf("change delivered without a write: %v", p)
	case <-time.After(300 * time.Millisecond):
	}

	logPath := filepath.Join(project, "new.jsonl")
	require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0o644))
	assert.Equal(t, []string{logPath}, waitChange(t, changes))
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, changes := startWatcher(t, fs.SourcePaths{CodexSessionsRoot: root}, []source.Kind{source.CodexSession})

	dir := filepath.Join(root, "2025", "01")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	logPath := filepath.Join(dir, "rollout.jsonl")
	require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0o644))

	assert.Contains(t, waitChange(t, changes), logPath)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	_, changes := startWatcher(t, fs.SourcePaths{ClaudeRoot: root}, []source.Kind{source.Claude})

	a := filepath.Join(root, "a.jsonl")
	b := filepath.Join(root, "b.jsonl")
	require.NoError(t, os.WriteFile(a, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(a, []byte("{}\n{}\n"), 0o644))

	assert.Equal(t, []string{a, b}, waitChange(t, changes))
}

func TestWatcherNothingToWatch(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	w := New(fs.SourcePaths{ClaudeRoot: missing}, []source.Kind{source.Claude}, func(context.Context, []string) {})
	assert.ErrorIs(t, w.Start(context.Background()), ErrNothingToWatch)
}

func TestIsLogFile(t *testing.T) {
	assert.True(t, isLogFile("/a/b.jsonl"))
	assert.True(t, isLogFile("/a/B.JSONL"))
	assert.False(t, isLogFile("/a/b.json"))
	assert.False(t, isLogFile("/a/jsonl"))
}

func TestTakeQuietWaitsForWindow(t *testing.T) {
	w := New(fs.SourcePaths{}, nil, nil, WithDebounceTime(time.Hour))
	w.queue("/x.jsonl")
	assert.Nil(t, w.takeQuiet())

	w.debounceTime = 0
	assert.Equal(t, []string{"/x.jsonl"}, w.takeQuiet())
	assert.Nil(t, w.takeQuiet())
}
