// Package config handles configuration loading and validation for memex.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nickcecere/memex/internal/fs"
	"github.com/nickcecere/memex/internal/source"
)

// Config represents the complete memex configuration.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Ignore     []string         `mapstructure:"ignore"`
}

// SourcesConfig locates the conversation logs of each provider.
type SourcesConfig struct {
	Claude ClaudeSourceConfig `mapstructure:"claude"`
	Codex  CodexSourceConfig  `mapstructure:"codex"`
}

// ClaudeSourceConfig configures Claude log discovery.
type ClaudeSourceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Root    string `mapstructure:"root"`
}

// CodexSourceConfig configures Codex log discovery.
type CodexSourceConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SessionsRoot string `mapstructure:"sessions_root"`
	HistoryFile  string `mapstructure:"history_file"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Provider     string            `mapstructure:"provider"`
	Profile      string            `mapstructure:"profile"`
	ComputeUnits string            `mapstructure:"compute_units"`
	Workers      int               `mapstructure:"workers"`
	BatchSize    int               `mapstructure:"batch_size"`
	CacheSize    int               `mapstructure:"cache_size"`
	Ollama       OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI       OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// IngestConfig configures the ingest pipeline.
type IngestConfig struct {
	ParseWorkers       int           `mapstructure:"parse_workers"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	CheckpointRecords  int           `mapstructure:"checkpoint_records"`
	MaxTextChars       int           `mapstructure:"max_text_chars"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Sources: SourcesConfig{
			Claude: ClaudeSourceConfig{
				Enabled: true,
				Root:    DefaultClaudeRoot(),
			},
			Codex: CodexSourceConfig{
				Enabled:      true,
				SessionsRoot: DefaultCodexSessionsRoot(),
				HistoryFile:  DefaultCodexHistoryFile(),
			},
		},
		Embeddings: EmbeddingsConfig{
			Enabled:      true,
			Provider:     DefaultEmbeddingProvider,
			Profile:      DefaultEmbeddingProfile,
			ComputeUnits: DefaultComputeUnits,
			Workers:      DefaultEmbedWorkers,
			BatchSize:    DefaultEmbedBatchSize,
			CacheSize:    DefaultEmbedCacheSize,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Ingest: IngestConfig{
			ParseWorkers:       DefaultParseWorkers,
			CheckpointInterval: DefaultCheckpointInterval,
			CheckpointRecords:  DefaultCheckpointRecords,
			MaxTextChars:       DefaultMaxTextChars,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	// A .env in the working directory never overrides the real environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debug("Failed to load .env", "error", err)
	}

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())

		// .memexrc.yaml in the current directory or a parent wins
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("MEMEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindShortEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	if loaded.Embeddings.OpenAI.APIKey == "" {
		loaded.Embeddings.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	loaded.expandPaths()

	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	d := DefaultConfig()

	viper.SetDefault("data_dir", d.DataDir)

	// Sources
	viper.SetDefault("sources.claude.enabled", d.Sources.Claude.Enabled)
	viper.SetDefault("sources.claude.root", d.Sources.Claude.Root)
	viper.SetDefault("sources.codex.enabled", d.Sources.Codex.Enabled)
	viper.SetDefault("sources.codex.sessions_root", d.Sources.Codex.SessionsRoot)
	viper.SetDefault("sources.codex.history_file", d.Sources.Codex.HistoryFile)

	// Embeddings
	viper.SetDefault("embeddings.enabled", d.Embeddings.Enabled)
	viper.SetDefault("embeddings.provider", d.Embeddings.Provider)
	viper.SetDefault("embeddings.profile", d.Embeddings.Profile)
	viper.SetDefault("embeddings.compute_units", d.Embeddings.ComputeUnits)
	viper.SetDefault("embeddings.workers", d.Embeddings.Workers)
	viper.SetDefault("embeddings.batch_size", d.Embeddings.BatchSize)
	viper.SetDefault("embeddings.cache_size", d.Embeddings.CacheSize)
	viper.SetDefault("embeddings.ollama.url", d.Embeddings.Ollama.URL)
	viper.SetDefault("embeddings.ollama.model", d.Embeddings.Ollama.Model)
	viper.SetDefault("embeddings.openai.model", d.Embeddings.OpenAI.Model)
	viper.SetDefault("embeddings.openai.base_url", "")
	viper.SetDefault("embeddings.openai.api_key", "")
	viper.SetDefault("embeddings.openai.dimensions", 0)

	// Ingest
	viper.SetDefault("ingest.parse_workers", d.Ingest.ParseWorkers)
	viper.SetDefault("ingest.checkpoint_interval", d.Ingest.CheckpointInterval)
	viper.SetDefault("ingest.checkpoint_records", d.Ingest.CheckpointRecords)
	viper.SetDefault("ingest.max_text_chars", d.Ingest.MaxTextChars)

	viper.SetDefault("ignore", d.Ignore)
}

// bindShortEnv binds the short environment names kept for compatibility
// with earlier memex releases.
func bindShortEnv() {
	_ = viper.BindEnv("embeddings.compute_units", "MEMEX_EMBEDDINGS_COMPUTE_UNITS", "MEMEX_COMPUTE_UNITS")
	_ = viper.BindEnv("embeddings.profile", "MEMEX_EMBEDDINGS_PROFILE", "MEMEX_MODEL")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embeddings.Provider)
	}
	switch c.Embeddings.ComputeUnits {
	case "auto", "cpu", "gpu":
	default:
		return fmt.Errorf("invalid compute_units %q: want auto, cpu or gpu", c.Embeddings.ComputeUnits)
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.Embeddings.Workers < 1 {
		return fmt.Errorf("embeddings.workers must be at least 1, got %d", c.Embeddings.Workers)
	}
	if c.Embeddings.BatchSize < 1 {
		return fmt.Errorf("embeddings.batch_size must be at least 1, got %d", c.Embeddings.BatchSize)
	}
	if c.Ingest.ParseWorkers < 1 {
		return fmt.Errorf("ingest.parse_workers must be at least 1, got %d", c.Ingest.ParseWorkers)
	}
	if c.Ingest.CheckpointInterval <= 0 {
		return fmt.Errorf("ingest.checkpoint_interval must be positive, got %s", c.Ingest.CheckpointInterval)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.DataDir = fs.ExpandHome(c.DataDir)
	c.Sources.Claude.Root = fs.ExpandHome(c.Sources.Claude.Root)
	c.Sources.Codex.SessionsRoot = fs.ExpandHome(c.Sources.Codex.SessionsRoot)
	c.Sources.Codex.HistoryFile = fs.ExpandHome(c.Sources.Codex.HistoryFile)
}

// StatePath returns the ingest state file.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, StateFileName)
}

// RecordsPath returns the SQLite record store.
func (c *Config) RecordsPath() string {
	return filepath.Join(c.DataDir, RecordsFileName)
}

// VectorDir returns the vector index directory for an embedding model.
func (c *Config) VectorDir(model string) string {
	return filepath.Join(c.DataDir, VectorsDirName, CollectionName(model))
}

// CollectionName turns a model name into a safe directory name.
func CollectionName(model string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(model) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "._")
	if name == "" {
		return "default"
	}
	return name
}

// EnabledKinds returns the source kinds that are switched on.
func (c *Config) EnabledKinds() []source.Kind {
	var kinds []source.Kind
	if c.Sources.Claude.Enabled {
		kinds = append(kinds, source.Claude)
	}
	if c.Sources.Codex.Enabled {
		kinds = append(kinds, source.CodexSession, source.CodexHistory)
	}
	return kinds
}

// SourcePaths returns discovery paths; disabled sources have empty paths.
func (c *Config) SourcePaths() fs.SourcePaths {
	p := fs.SourcePaths{Ignore: c.Ignore}
	if c.Sources.Claude.Enabled {
		p.ClaudeRoot = c.Sources.Claude.Root
	}
	if c.Sources.Codex.Enabled {
		p.CodexSessionsRoot = c.Sources.Codex.SessionsRoot
		p.CodexHistoryFile = c.Sources.Codex.HistoryFile
	}
	return p
}

// findRCFile searches for .memexrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, RCFileName)
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
