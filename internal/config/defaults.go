package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultEmbeddingProfile  = "nomic"
	DefaultComputeUnits      = "auto"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"
	DefaultEmbedWorkers      = 2
	DefaultEmbedBatchSize    = 32
	DefaultEmbedCacheSize    = 4096

	// Ingest defaults
	DefaultParseWorkers       = 4
	DefaultCheckpointInterval = 30 * time.Second
	DefaultCheckpointRecords  = 2000
	DefaultMaxTextChars       = 8000

	// File names under the data directory
	StateFileName   = "state.json"
	RecordsFileName = "records.db"
	VectorsDirName  = "vectors"

	RCFileName = ".memexrc.yaml"
)

// DefaultIgnorePatterns returns the default list of file patterns to ignore
// during log discovery.
func DefaultIgnorePatterns() []string {
	return []string{
		// Editor and OS leftovers
		"*.swp",
		"*.swo",
		"*~",
		".DS_Store",

		// Partial downloads and temp copies
		"*.tmp",
		"*.part",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/memex"
	}
	return filepath.Join(home, ".config", "memex")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/memex"
	}
	return filepath.Join(home, ".local", "share", "memex")
}

// DefaultClaudeRoot returns where Claude keeps per-project session logs.
func DefaultClaudeRoot() string {
	return filepath.Join(homeOr("."), ".claude", "projects")
}

// DefaultCodexSessionsRoot returns where Codex keeps rollout logs.
func DefaultCodexSessionsRoot() string {
	return filepath.Join(homeOr("."), ".codex", "sessions")
}

// DefaultCodexHistoryFile returns the Codex prompt history file.
func DefaultCodexHistoryFile() string {
	return filepath.Join(homeOr("."), ".codex", "history.jsonl")
}

func homeOr(fallback string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return home
}
