package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nickcecere/memex/internal/source"
)

// SourcePaths locates the logs of each provider. An empty path disables
// that source.
type SourcePaths struct {
	ClaudeRoot        string
	CodexSessionsRoot string
	CodexHistoryFile  string
	Ignore            []string
}

// Roots returns the directories that hold logs for the given kinds, for
// watching. The history file contributes its parent directory.
func (p SourcePaths) Roots(kinds []source.Kind) []string {
	var roots []string
	for _, k := range kinds {
		switch k {
		case source.Claude:
			roots = appendNonEmpty(roots, p.ClaudeRoot)
		case source.CodexSession:
			roots = appendNonEmpty(roots, p.CodexSessionsRoot)
		case source.CodexHistory:
			if p.CodexHistoryFile != "" {
				roots = appendNonEmpty(roots, filepath.Dir(p.CodexHistoryFile))
			}
		}
	}
	slices.Sort(roots)
	return slices.Compact(roots)
}

func appendNonEmpty(s []string, v string) []string {
	if v == "" {
		return s
	}
	return append(s, ExpandHome(v))
}

// DiscoverSources lists the log files of each requested kind, sorted by path.
func DiscoverSources(paths SourcePaths, kinds []source.Kind) (map[source.Kind][]FileInfo, error) {
	out := make(map[source.Kind][]FileInfo, len(kinds))
	for _, k := range kinds {
		var (
			files []FileInfo
			err   error
		)
		switch k {
		case source.Claude:
			files, err = walkRoot(paths.ClaudeRoot, k, paths.Ignore)
		case source.CodexSession:
			files, err = walkRoot(paths.CodexSessionsRoot, k, paths.Ignore)
		case source.CodexHistory:
			files, err = statFile(paths.CodexHistoryFile, k)
		default:
			err = fmt.Errorf("unknown source: %s", k)
		}
		if err != nil {
			return nil, err
		}
		out[k] = files
	}
	return out, nil
}

func walkRoot(root string, kind source.Kind, ignore []string) ([]FileInfo, error) {
	if root == "" {
		return nil, nil
	}

	opts := DefaultWalkOptions()
	opts.Root = ExpandHome(root)
	opts.Kind = kind
	opts.IgnorePatterns = ignore

	w, err := NewFileWalker(opts)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	if err := w.Walk(func(fi FileInfo) error {
		files = append(files, fi)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", opts.Root, err)
	}

	slices.SortFunc(files, func(a, b FileInfo) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

func statFile(path string, kind source.Kind) ([]FileInfo, error) {
	if path == "" {
		return nil, nil
	}
	path, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	return []FileInfo{{
		Kind:    kind,
		Path:    path,
		RelPath: filepath.Base(path),
		Size:    uint64(info.Size()),
		ModTime: info.ModTime(),
	}}, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
