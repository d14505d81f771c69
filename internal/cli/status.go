package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/progress"
	"github.com/nickcecere/memex/internal/source"
	"github.com/nickcecere/memex/internal/state"
	"github.com/nickcecere/memex/internal/store"
	"github.com/nickcecere/memex/internal/ui"
	"github.com/nickcecere/memex/internal/vector"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archive status and statistics",
	Long: `Display information about the local archive including:
- Number of stored messages per source
- Files tracked by the ingest state
- Vector coverage for the configured embedding model
- Last checkpoint time`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	log.Debug("Showing status", "data_dir", cfg.DataDir)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return fmt.Errorf("failed to read store stats: %w", err)
	}

	ingestState, err := state.Load(cfg.StatePath())
	if err != nil {
		return err
	}

	fmt.Println(ui.Header.Render("Archive Status"))
	fmt.Println()

	fmt.Printf("  %s %s\n", ui.Dim.Render("Data dir:"), cfg.DataDir)
	if info, err := os.Stat(cfg.RecordsPath()); err == nil {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Records db:"), formatBytes(info.Size()))
	}
	fmt.Printf("  %s %d messages, %d sessions, %d files\n",
		ui.Dim.Render("Indexed:"),
		stats.Records,
		stats.Sessions,
		stats.Files,
	)
	for _, k := range source.All() {
		if n := stats.BySource[k]; n > 0 {
			fmt.Printf("    %-14s %d\n", k.String()+":", n)
		}
	}

	fmt.Printf("  %s %d files, next doc id %d\n",
		ui.Dim.Render("Tracked:"),
		len(ingestState.Files),
		ingestState.NextDocID,
	)
	if info, err := os.Stat(cfg.StatePath()); err == nil {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Checkpoint:"), formatTime(info.ModTime()))
	}

	vectors := -1
	if cfg.Embeddings.Enabled {
		vectors = printVectorStatus(cfg, stats)
	} else {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Vectors:"), "embeddings disabled")
	}

	fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), getHealthStatus(stats, vectors))
	return nil
}

// printVectorStatus reports the configured model's index and returns its
// vector count, or -1 if it could not be read.
func printVectorStatus(cfg *config.Config, stats *store.StoreStats) int {
	model, err := embeddings.ResolveModel(cfg.Embeddings)
	if err != nil {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Vectors:"), ui.Error.Render(err.Error()))
		return -1
	}

	idx, err := vector.Open(cfg.VectorDir(model))
	switch {
	case errors.Is(err, vector.ErrIndexNotFound):
		fmt.Printf("  %s none for %s (%s)\n", ui.Dim.Render("Vectors:"), model, cfg.Embeddings.Provider)
		return 0
	case err != nil:
		fmt.Printf("  %s %s\n", ui.Dim.Render("Vectors:"), ui.Error.Render(err.Error()))
		return -1
	}

	fmt.Printf("  %s %d of %d (%d%%) for %s (%s, %d dims)\n",
		ui.Dim.Render("Vectors:"),
		idx.Len(),
		stats.Records,
		progress.Percent(uint64(idx.Len()), uint64(stats.Records)),
		model,
		cfg.Embeddings.Provider,
		idx.Dimensions(),
	)
	return idx.Len()
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	// If today, show time only
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return "today at " + t.Format("15:04")
	}

	// If this year, omit year
	if t.Year() == now.Year() {
		return t.Format("Jan 2 at 15:04")
	}

	return t.Format("Jan 2, 2006 at 15:04")
}

// getHealthStatus returns a health indicator. vectors is -1 when unknown
// or embeddings are off.
func getHealthStatus(stats *store.StoreStats, vectors int) string {
	if stats.Records == 0 {
		return ui.Warning.Render("empty (run 'memex index')")
	}
	if vectors >= 0 && vectors < stats.Records {
		return ui.Warning.Render(fmt.Sprintf("%d messages without vectors (run 'memex index')", stats.Records-vectors))
	}
	return ui.Success.Render("healthy")
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
