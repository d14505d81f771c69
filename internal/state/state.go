// Package state tracks per-file ingestion progress and allocates document IDs.
//
// An IngestState is owned by a single goroutine (the ingest coordinator).
// It is not safe for concurrent use.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrStateCorrupt is returned by Load when the stored state is not well-formed.
var ErrStateCorrupt = errors.New("ingest state corrupt")

// FileState records how far a file has been parsed.
type FileState struct {
	Size   uint64 `json:"size"`    // Bytes at last successful parse
	Mtime  int64  `json:"mtime"`   // Modification time (unix nanoseconds) at last parse
	Offset uint64 `json:"offset"`  // Bytes already consumed
	TurnID uint32 `json:"turn_id"` // Next turn index within the file's record stream
}

// IngestState is the persisted ingestion state for the whole archive.
type IngestState struct {
	NextDocID uint64               `json:"next_doc_id"`
	Files     map[string]FileState `json:"files"`
}

// New returns an empty state. Document IDs start at 1.
func New() *IngestState {
	return &IngestState{
		NextDocID: 1,
		Files:     make(map[string]FileState),
	}
}

// Load reads state from path. A missing file yields an empty state.
func Load(path string) (*IngestState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", path, err)
	}

	var s IngestState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStateCorrupt, path, err)
	}
	if s.NextDocID == 0 {
		return nil, fmt.Errorf("%w: %s: next_doc_id must be positive", ErrStateCorrupt, path)
	}
	if s.Files == nil {
		s.Files = make(map[string]FileState)
	}
	for p, fs := range s.Files {
		if fs.Offset > fs.Size {
			return nil, fmt.Errorf("%w: %s: offset %d beyond size %d for %s", ErrStateCorrupt, path, fs.Offset, fs.Size, p)
		}
	}

	return &s, nil
}

// Save writes the full state to path, creating parent directories.
// Output is indented JSON with sorted keys so it diffs cleanly.
func (s *IngestState) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state %s: %w", path, err)
	}
	return nil
}

// AllocDocID returns the next document ID and advances the counter.
func (s *IngestState) AllocDocID() uint64 {
	id := s.NextDocID
	s.NextDocID++
	return id
}

// Lookup returns the stored state for a file.
func (s *IngestState) Lookup(path string) (FileState, bool) {
	fs, ok := s.Files[path]
	return fs, ok
}

// Advance records new progress for a file.
func (s *IngestState) Advance(path string, fs FileState) {
	s.Files[path] = fs
}
