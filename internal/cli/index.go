package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/ingest"
	"github.com/nickcecere/memex/internal/progress"
	"github.com/nickcecere/memex/internal/store"
	"github.com/nickcecere/memex/internal/ui"
)

var (
	indexSources []string
	indexNoEmbed bool
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Ingest new conversation log content",
	Long: `Discover conversation logs and ingest whatever was written since the last run.

This command will:
1. Find Claude and Codex log files under the configured roots
2. Resume each file from its saved cursor (unchanged files are skipped)
3. Store new messages in the local record store
4. Embed new messages into the vector index for the configured model

Interrupting with Ctrl+C saves progress; the next run continues from there.

Examples:
  # Index every configured source
  memex index

  # Only Codex (sessions and history)
  memex index --source codex

  # Text only, skip embeddings
  memex index --no-embed`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringSliceVarP(&indexSources, "source", "s", nil, "sources to index: claude, codex, codex-session, codex-history")
	indexCmd.Flags().BoolVar(&indexNoEmbed, "no-embed", false, "index text only, skip embeddings")
}

func runIndex(cmd *cobra.Command, args []string) error {
	kinds, err := parseSources(indexSources)
	if err != nil {
		return err
	}

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sum, err := runPipeline(ctx, cfg, st, ingest.Options{
		Kinds:   kinds,
		NoEmbed: indexNoEmbed,
		Output:  os.Stderr,
	})
	if err != nil {
		return err
	}

	printSummary(sum)
	return nil
}

// runPipeline performs one ingest pass with the configured embedder.
func runPipeline(ctx context.Context, cfg *config.Config, st store.Store, opts ingest.Options) (*ingest.Summary, error) {
	var factory ingest.EmbedderFactory
	if cfg.Embeddings.Enabled {
		factory = ingest.DefaultEmbedderFactory(cfg.Embeddings)
	}

	sum, err := ingest.New(cfg, st, factory).Run(ctx, opts)
	if err != nil {
		return sum, fmt.Errorf("indexing failed: %w", err)
	}
	return sum, nil
}

func printSummary(sum *ingest.Summary) {
	if sum.Interrupted {
		fmt.Println(ui.Warning.Render("Interrupted, progress saved"))
	} else {
		fmt.Println(ui.Success.Render("Indexing complete!"))
	}
	fmt.Println()

	if !progress.IsTerminal(os.Stderr) {
		for _, line := range progress.Summary(sum.Stats) {
			fmt.Printf("  %s\n", line)
		}
	}

	fmt.Printf("  Files:    %d discovered, %d skipped, %d processed", sum.FilesDiscovered, sum.FilesSkipped, sum.FilesProcessed)
	if sum.FilesFailed > 0 {
		fmt.Print(ui.Warning.Render(fmt.Sprintf(", %d failed", sum.FilesFailed)))
	}
	fmt.Println()
	fmt.Printf("  Records:  %d indexed\n", sum.RecordsIndexed)
	if sum.EmbeddingsEnabled {
		fmt.Printf("  Vectors:  %d embedded (%s)\n", sum.Embedded, sum.Model)
	} else {
		fmt.Printf("  Vectors:  %s\n", ui.Dim.Render("off"))
	}
	fmt.Printf("  Duration: %s\n", sum.Duration.Round(time.Millisecond))

	log.Debug("Ingest finished", "records", sum.RecordsIndexed, "embedded", sum.Embedded, "interrupted", sum.Interrupted)
}
