package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/idp-pipeline/internal/bootstrap"
	"github.com/kirillkom/idp-pipeline/internal/config"
	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
	"github.com/kirillkom/idp-pipeline/internal/observability/logging"
)

// services is the slice of the application the CLI talks to.
type services struct {
	Reindex ports.KeywordReindexer
	Search  ports.SearchService
	Jobs    ports.JobReader
	Close   func()
}

type openFunc func(ctx context.Context) (*services, error)

func openServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// Command output owns stdout.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "idpctl", cfg.LogLevel))
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &services{
		Reindex: app.Reindex,
		Search:  app.Search,
		Jobs:    app.Jobs,
		Close:   app.Close,
	}, nil
}

func newRootCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "idpctl",
		Short:        "Operate the document ingestion and retrieval pipeline",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newReindexCmd(open),
		newSearchCmd(open),
		newJobCmd(open),
	)
	return cmd
}

func newReindexCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the keyword index from the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, open, func(svc *services) error {
				report, err := svc.Reindex.Rebuild(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks in %d batches (%d ms)\n",
					report.IndexedCount, report.BatchCount, report.LatencyMS)
				return nil
			})
		},
	}
}

type searchOptions struct {
	topK   int
	mode   string
	docID  string
	rerank bool
	format string
}

func newSearchCmd(open openFunc) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search against the indexes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.SearchRequest{
				Query:     strings.Join(args, " "),
				TopK:      opts.topK,
				Filters:   domain.SearchFilter{DocID: opts.docID},
				Retrieval: domain.RetrievalConfig{Mode: opts.mode},
				Rerank:    domain.RerankConfig{Enabled: opts.rerank},
			}
			return withServices(cmd, open, func(svc *services) error {
				resp, err := svc.Search.Search(cmd.Context(), req)
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				printResults(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "limit", "n", 0, "Maximum number of results (server default when 0)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Retrieval mode: hybrid, dense")
	cmd.Flags().StringVar(&opts.docID, "doc", "", "Restrict results to one document id")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank candidates")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func newJobCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show the status and result of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(svc *services) error {
				state, err := svc.Jobs.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), state)
			})
		},
	}
}

func withServices(cmd *cobra.Command, open openFunc, fn func(*services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
		cmd.SetContext(ctx)
	}
	svc, err := open(ctx)
	if err != nil {
		return err
	}
	if svc.Close != nil {
		defer svc.Close()
	}
	return fn(svc)
}

func printResults(w io.Writer, resp *domain.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%d. %s  score=%.4f  doc=%s\n", i+1, r.ChunkID, r.Score, r.DocID)
		fmt.Fprintf(w, "   %s\n", snippet(r.Text, 160))
	}
	fmt.Fprintf(w, "mode=%s dense=%d bm25=%d rerank=%t latency=%dms\n",
		resp.Debug.Mode, resp.Debug.DenseHits, resp.Debug.BM25Hits, resp.Debug.RerankUsed, resp.Debug.LatencyMS)
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
