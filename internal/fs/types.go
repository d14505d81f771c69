// Package fs discovers conversation log files on disk.
package fs

import (
	"time"

	"github.com/nickcecere/memex/internal/source"
)

// FileInfo represents metadata about a log file.
type FileInfo struct {
	Kind    source.Kind // Source the file belongs to
	Path    string      // Absolute path to the file
	RelPath string      // Path relative to the walk root
	Size    uint64      // File size in bytes
	ModTime time.Time   // Last modification time
}

// WalkOptions configures the file walker.
type WalkOptions struct {
	// Root is the directory to start walking from.
	Root string

	// Kind is stamped on every FileInfo produced by the walk.
	Kind source.Kind

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories below the root.
	IncludeHidden bool

	// Extensions limits to specific file extensions (e.g. ".jsonl").
	// Empty means all files.
	Extensions []string
}

// DefaultWalkOptions returns the options used for log discovery.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		Extensions: []string{".jsonl"},
	}
}

// Walker walks a directory tree and yields files.
type Walker interface {
	// Walk walks the directory tree and calls fn for each file.
	// The walk stops if fn returns an error.
	Walk(fn func(FileInfo) error) error

	// Stats returns statistics about the walk.
	Stats() WalkStats
}

// WalkStats contains statistics from a directory walk.
type WalkStats struct {
	FilesFound   int    // Total files found
	FilesSkipped int    // Files skipped due to pattern or extension
	DirsSkipped  int    // Directories skipped
	TotalBytes   uint64 // Total bytes of files found
}
