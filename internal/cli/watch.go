package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/ingest"
	"github.com/nickcecere/memex/internal/ui"
	"github.com/nickcecere/memex/internal/watcher"
)

var (
	watchNoInitial bool
	watchSources   []string
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch log directories and ingest as conversations grow",
	Long: `Watch the configured log directories and ingest new content as it is written.

This command first runs a normal index pass (unless --no-initial is
specified), then re-runs ingestion whenever a log file changes. Each pass
only reads what was appended since the last one.

Examples:
  # Watch every configured source
  memex watch

  # Skip initial sync (assumes already indexed)
  memex watch --no-initial`,
	Args: cobra.NoArgs,
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip initial index sync")
	watchCmd.Flags().StringSliceVarP(&watchSources, "source", "s", nil, "sources to watch: claude, codex, codex-session, codex-history")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	kinds, err := parseSources(watchSources)
	if err != nil {
		return err
	}

	cfg := config.Get()
	if len(kinds) == 0 {
		kinds = cfg.EnabledKinds()
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if !watchNoInitial {
		fmt.Println(ui.Header.Render("Initial Index"))
		sum, err := runPipeline(ctx, cfg, st, ingest.Options{Kinds: kinds, Output: os.Stderr})
		if err != nil {
			return err
		}
		if sum.Interrupted {
			return nil
		}
		fmt.Printf("Initial index complete: %d records, %d embedded\n\n", sum.RecordsIndexed, sum.Embedded)
	}

	w := watcher.New(cfg.SourcePaths(), kinds, func(ctx context.Context, paths []string) {
		log.Debug("Logs changed", "files", paths)
		sum, err := runPipeline(ctx, cfg, st, ingest.Options{Kinds: kinds})
		if err != nil {
			log.Error("Ingest failed", "error", err)
			return
		}
		if sum.RecordsIndexed > 0 || sum.Embedded > 0 {
			log.Info("Ingested", "files", sum.FilesProcessed, "records", sum.RecordsIndexed, "embedded", sum.Embedded)
		}
	})

	fmt.Println(ui.Header.Render("Watching for Changes"))
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	err = w.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
