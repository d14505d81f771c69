package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/memex/internal/config"
	"github.com/nickcecere/memex/internal/embeddings"
	"github.com/nickcecere/memex/internal/search"
	"github.com/nickcecere/memex/internal/store"
	"github.com/nickcecere/memex/internal/ui"
	"github.com/nickcecere/memex/internal/vector"
)

var (
	searchLimit    int
	searchSources  []string
	searchKeyword  bool
	searchMinScore float64
	searchRender   bool
	searchJSON     bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed conversations",
	Long: `Search past conversations using natural language queries.

By default the query is embedded and matched against the vector index by
cosine similarity. --keyword matches messages containing every term instead,
newest first, and works without an embedding provider.

Examples:
  # Semantic search
  memex search "why did the migration deadlock"

  # Keyword search, Claude only
  memex search --keyword --source claude "pgx pool"

  # Limit results and render messages as markdown
  memex search "retry backoff" -m 5 --render

  # Filter by minimum similarity score
  memex search "error handling" --min-score 0.5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearchCmd,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", 10, "maximum number of results")
	searchCmd.Flags().StringSliceVarP(&searchSources, "source", "s", nil, "restrict to sources: claude, codex, codex-session, codex-history")
	searchCmd.Flags().BoolVarP(&searchKeyword, "keyword", "k", false, "keyword search instead of semantic")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0.0, "minimum similarity score (0-1)")
	searchCmd.Flags().BoolVar(&searchRender, "render", false, "render message text as markdown")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	kinds, err := parseSources(searchSources)
	if err != nil {
		return err
	}

	opts := search.Options{
		Limit:    searchLimit,
		Kinds:    kinds,
		MinScore: searchMinScore,
	}

	log.Debug("Starting search",
		"query", query,
		"limit", opts.Limit,
		"keyword", searchKeyword,
	)

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var results []search.Result
	if searchKeyword || !cfg.Embeddings.Enabled {
		results, err = search.New(st, nil, nil).Keyword(query, opts)
	} else {
		var searcher *search.Searcher
		searcher, err = semanticSearcher(cfg, st)
		if err != nil {
			return err
		}
		results, err = searcher.Semantic(ctx, query, opts)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputJSON(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	displayResults(results, searchRender)
	return nil
}

// semanticSearcher opens the vector index of the configured model.
func semanticSearcher(cfg *config.Config, st store.Store) (*search.Searcher, error) {
	emb, err := embeddings.NewService(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	dir := cfg.VectorDir(emb.ModelName())
	idx, err := vector.Open(dir)
	if errors.Is(err, vector.ErrIndexNotFound) {
		return nil, fmt.Errorf("no vectors for model %s yet: run 'memex index' or use --keyword", emb.ModelName())
	}
	if err != nil {
		return nil, err
	}

	log.Debug("Opened vector index", "dir", dir, "vectors", idx.Len(), "dims", idx.Dimensions())
	return search.New(st, emb, idx), nil
}

// displayResults formats and displays search results.
func displayResults(results []search.Result, render bool) {
	fmt.Printf("Found %d results:\n\n", len(results))

	var renderer *glamour.TermRenderer
	if render {
		r, err := newMarkdownRenderer()
		if err != nil {
			log.Warn("Markdown rendering unavailable", "error", err)
		} else {
			renderer = r
		}
	}

	for i, r := range results {
		header := fmt.Sprintf("%s %s %s",
			ui.Header.Render(fmt.Sprintf("[%d]", i+1)),
			ui.FormatRole(r.Role),
			ui.FormatTimestamp(r.Timestamp),
		)
		if r.Score > 0 {
			header += " " + ui.FormatScore(r.Score)
		}
		fmt.Println(header)
		fmt.Printf("    %s\n", ui.FormatRecordRef(r.Source, r.Path, r.TurnID))
		if r.SessionID != "" {
			fmt.Printf("    %s\n", ui.Dim.Render("session "+r.SessionID))
		}
		fmt.Println()

		if renderer != nil {
			if out, err := renderer.Render(r.Text); err == nil {
				fmt.Print(out)
				continue
			}
		}
		fmt.Println(ui.ResultContent.Render(preview(r.Text, 12)))
		fmt.Println()
	}
}

// preview keeps the first maxLines lines of text.
func preview(text string, maxLines int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	omitted := ui.Dim.Render(fmt.Sprintf("... (%d lines omitted)", len(lines)-maxLines))
	return strings.Join(lines[:maxLines], "\n") + "\n" + omitted
}

// outputJSON outputs results as JSON.
func outputJSON(results []search.Result) error {
	if results == nil {
		results = []search.Result{}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// newMarkdownRenderer renders markdown content using glamour.
func newMarkdownRenderer() (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
}
