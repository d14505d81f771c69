// Package watcher watches the conversation log directories and reports
// batches of changed log files.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/memex/internal/fs"
	"github.com/nickcecere/memex/internal/source"
)

// ErrNothingToWatch is returned by Start when no source directory exists.
var ErrNothingToWatch = errors.New("no source directories to watch")

// ChangeFunc receives the log files written since the last call, sorted.
// Calls never overlap; events arriving meanwhile are delivered next time.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches log roots recursively for .jsonl writes.
type Watcher struct {
	roots    []string
	onChange ChangeFunc

	// pending holds changed paths until the debounce window is quiet
	pending      map[string]struct{}
	lastEvent    time.Time
	mu           sync.Mutex
	debounceTime time.Duration

	ready chan struct{}
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets how long events must be quiet before a batch is delivered.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// New creates a watcher over the directories holding logs of kinds.
func New(paths fs.SourcePaths, kinds []source.Kind, onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		roots:        paths.Roots(kinds),
		onChange:     onChange,
		pending:      make(map[string]struct{}),
		debounceTime: 500 * time.Millisecond,
		ready:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins watching for file changes. Blocks until context is cancelled
// and any running ChangeFunc has returned.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := 0
	for _, root := range w.roots {
		if _, err := os.Stat(root); err != nil {
			log.Debug("Not watching missing root", "root", root)
			continue
		}
		watched += w.addDirectories(watcher, root, false)
	}
	if watched == 0 {
		return ErrNothingToWatch
	}

	log.Info("Watching for log changes", "roots", len(w.roots), "dirs", watched)
	close(w.ready)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.processDebounced(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, watcher)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories adds dir and its subdirectories to the watcher. With
// queueExisting, log files already inside are queued too. It returns the
// number of directories added.
func (w *Watcher) addDirectories(watcher *fsnotify.Watcher, dir string, queueExisting bool) int {
	added := 0
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !d.IsDir() {
			if queueExisting && path != dir && isLogFile(path) {
				w.queue(path)
			}
			return nil
		}

		// Skip hidden directories below the root
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
			return nil
		}
		added++
		return nil
	})
	return added
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) {
	path := event.Name

	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		// Removed logs keep their records
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			// Files created before the watch was added are queued by the walk
			n := w.addDirectories(watcher, path, true)
			log.Debug("Added directory to watch", "path", path, "dirs", n)
		}
		return
	}

	if !isLogFile(path) {
		return
	}
	w.queue(path)
}

func (w *Watcher) queue(path string) {
	w.mu.Lock()
	w.pending[path] = struct{}{}
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

// isLogFile checks if a file is a JSONL log.
func isLogFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".jsonl")
}

// processDebounced delivers pending paths once no event has arrived for a
// full debounce window.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(max(w.debounceTime/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if paths := w.takeQuiet(); len(paths) > 0 {
				log.Debug("Logs changed", "files", len(paths))
				w.onChange(ctx, paths)
			}
		}
	}
}

// takeQuiet returns and clears the pending set if the debounce window has passed.
func (w *Watcher) takeQuiet() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 || time.Since(w.lastEvent) < w.debounceTime {
		return nil
	}

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	slices.Sort(paths)
	return paths
}
