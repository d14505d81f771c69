package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Ignorer defines the interface for pattern matching.
type Ignorer interface {
	MatchesPath(path string) bool
}

// FileWalker implements Walker for traversing a log directory.
type FileWalker struct {
	opts    WalkOptions
	ignorer Ignorer
	stats   WalkStats
	extSet  map[string]bool
	missing bool
}

// NewFileWalker creates a new file walker. A root that does not exist is not
// an error; the walk simply yields nothing.
func NewFileWalker(opts WalkOptions) (*FileWalker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	w := &FileWalker{opts: opts}

	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("Source root does not exist", "root", root)
		w.missing = true
	case err != nil:
		return nil, fmt.Errorf("failed to stat root %s: %w", root, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	if len(opts.Extensions) > 0 {
		w.extSet = make(map[string]bool)
		for _, ext := range opts.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			w.extSet[strings.ToLower(ext)] = true
		}
	}

	w.ignorer = gitignore.CompileIgnoreLines(append(opts.IgnorePatterns, defaultIgnorePatterns...)...)
	return w, nil
}

// Walk traverses the directory tree.
func (w *FileWalker) Walk(fn func(FileInfo) error) error {
	w.stats = WalkStats{}
	if w.missing {
		return nil
	}

	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}

		// The root itself lives under a dot directory (~/.claude, ~/.codex)
		if path == w.opts.Root {
			return nil
		}

		relPath, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if w.shouldSkipDir(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || w.shouldSkipFile(d.Name(), relPath) {
			w.stats.FilesSkipped++
			return nil
		}

		if w.extSet != nil && !w.extSet[strings.ToLower(filepath.Ext(path))] {
			w.stats.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", path, "error", err)
			return nil
		}

		fileInfo := FileInfo{
			Kind:    w.opts.Kind,
			Path:    path,
			RelPath: relPath,
			Size:    uint64(info.Size()),
			ModTime: info.ModTime(),
		}

		w.stats.FilesFound++
		w.stats.TotalBytes += fileInfo.Size

		return fn(fileInfo)
	})
}

// Stats returns the walk statistics.
func (w *FileWalker) Stats() WalkStats {
	return w.stats
}

func (w *FileWalker) shouldSkipDir(name, relPath string) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath + "/")
}

func (w *FileWalker) shouldSkipFile(name, relPath string) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath)
}

// Editor and OS leftovers that can end up next to session logs.
var defaultIgnorePatterns = []string{
	"*.swp",
	"*.swo",
	"*~",
	"*.tmp",
	".DS_Store",
}
