package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/drugbot/internal/app"
	"github.com/bull/drugbot/internal/config"
	"github.com/bull/drugbot/internal/corpus"
	ghclient "github.com/bull/drugbot/internal/github"
	"github.com/bull/drugbot/internal/indexer"
)

var (
	ingestGitHub      string
	ingestRef         string
	ingestIncremental bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Build the drug index from a local corpus or a GitHub repository",
	Long: `Loads drug records, chunks and embeds them, and publishes a new index version.

The corpus is a file or directory of .json (knowledge base), .csv
(drug,attribute,source_type,text) and .md (monograph) files. With --github
owner/repo the path is read from that repository instead.

Ingestion stops at the first record that cannot be chunked or embedded and
leaves the previous index untouched.

Environment variables:
  OPENAI_API_KEY  OpenAI API key for embeddings (required)
  INDEX_BACKEND   file or qdrant (default: file)
  INDEX_PATH      snapshot file for the file backend
  QDRANT_HOST     Qdrant hostname (default: localhost)
  QDRANT_PORT     Qdrant gRPC port (default: 6334)
  GITHUB_TOKEN    GitHub token for higher rate limits (optional)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestGitHub, "github", "", "read the corpus from this owner/repo")
	ingestCmd.Flags().StringVar(&ingestRef, "ref", "", "branch, tag or commit for --github (default branch if empty)")
	ingestCmd.Flags().BoolVar(&ingestIncremental, "incremental", false, "keep records of the current index that the corpus does not mention")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())

	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	var source corpus.Source
	if ingestGitHub != "" {
		owner, repo, ok := strings.Cut(ingestGitHub, "/")
		if !ok || owner == "" || repo == "" {
			return fmt.Errorf("--github must be owner/repo, got %q", ingestGitHub)
		}
		client, err := ghclient.NewClient(ctx, cfg.GitHub.Token)
		if err != nil {
			return fmt.Errorf("create GitHub client: %w", err)
		}
		source = ghclient.NewFetcher(client, owner, repo, ingestRef, path)
		fmt.Fprintf(out, "Reading corpus from github.com/%s/%s\n", owner, repo)
	} else {
		if path == "" {
			return fmt.Errorf("a corpus path or --github is required")
		}
		source = corpus.FileSource{Path: path}
		fmt.Fprintf(out, "Reading corpus from %s\n", path)
	}

	a, err := app.New(ctx, cfg, logger, app.Options{AllowStaleIndex: !ingestIncremental})
	if err != nil {
		return err
	}
	defer a.Close()

	ix, err := a.NewIndexer(ingestIncremental)
	if err != nil {
		return err
	}

	result, err := indexer.NewPipeline(source, a.Chunker(), ix, logger).IndexAll(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Ingestion complete!")
	fmt.Fprintf(out, "  Records: %d\n", result.TotalRecords)
	fmt.Fprintf(out, "  Chunks: %d\n", result.TotalChunks)
	fmt.Fprintf(out, "  Index: %d drugs, %d chunks (%s)\n", result.IndexDrugs, result.IndexChunks, cfg.Index.Backend)
	fmt.Fprintf(out, "  Duration: %s\n", result.Duration.Round(time.Millisecond))
	return nil
}
