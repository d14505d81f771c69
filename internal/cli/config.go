package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  memex config

  # Show config file paths
  memex config --path`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		active := config.ConfigFilePath()
		if active == "" {
			active = "(none, using defaults)"
		}
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  %s (searched from cwd upward)\n", config.RCFileName)
		fmt.Printf("Active config: %s\n", active)
		fmt.Printf("State:         %s\n", cfg.StatePath())
		fmt.Printf("Records:       %s\n", cfg.RecordsPath())
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Sources:"))
	fmt.Printf("  Claude: %s (%s)\n", cfg.Sources.Claude.Root, enabled(cfg.Sources.Claude.Enabled))
	fmt.Printf("  Codex sessions: %s (%s)\n", cfg.Sources.Codex.SessionsRoot, enabled(cfg.Sources.Codex.Enabled))
	fmt.Printf("  Codex history: %s\n", cfg.Sources.Codex.HistoryFile)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Enabled: %t\n", cfg.Embeddings.Enabled)
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Profile: %s\n", cfg.Embeddings.Profile)
	if model, err := embeddings.ResolveModel(cfg.Embeddings); err == nil {
		fmt.Printf("  Model: %s\n", model)
		fmt.Printf("  Vectors: %s\n", cfg.VectorDir(model))
	}
	fmt.Printf("  Compute units: %s\n", cfg.Embeddings.ComputeUnits)
	fmt.Printf("  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Printf("  Workers: %d, batch size %d, cache %d\n", cfg.Embeddings.Workers, cfg.Embeddings.BatchSize, cfg.Embeddings.CacheSize)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Ingest:"))
	fmt.Printf("  Data dir: %s\n", cfg.DataDir)
	fmt.Printf("  Parse workers: %d\n", cfg.Ingest.ParseWorkers)
	fmt.Printf("  Checkpoint: every %s or %d records\n", cfg.Ingest.CheckpointInterval, cfg.Ingest.CheckpointRecords)
	fmt.Printf("  Max text chars: %d\n", cfg.Ingest.MaxTextChars)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Ignore Patterns:"))
	fmt.Printf("  %d patterns configured\n", len(cfg.Ignore))

	return nil
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
