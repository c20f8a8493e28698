package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mudler/ragscope/pkg/client"
	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/eval"
	"github.com/mudler/ragscope/pkg/runlog"
	"github.com/mudler/ragscope/rag"
	"github.com/mudler/ragscope/rag/engine"
	"github.com/spf13/cobra"
)

func (a *app) ingestCommand() *cobra.Command {
	var chunkSize, chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest [sources...]",
		Short: "Load, chunk and embed documents into the vector store",
		Long: `Load documents, split them into chunks, embed them and rebuild the vector store.
Sources may be directories, web pages, sitemap.xml URLs or git repositories.
Without arguments the documents directory is ingested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("chunk-size") {
				cfg.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("chunk-overlap") {
				cfg.ChunkOverlap = chunkOverlap
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			srcs := args
			if len(srcs) == 0 {
				srcs = []string{cfg.DocsDir}
			}

			embedder := engine.NewEmbedder(rag.NewOpenAIClient(cfg), cfg.AzureDeploymentEmbedding)
			kb, err := rag.OpenKnowledgeBase(cmd.Context(), cfg, embedder)
			if err != nil {
				return err
			}
			defer kb.Close()

			manifest, err := kb.Ingest(cmd.Context(), srcs...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded %d documents, stored %d chunks.\n", manifest.Documents, manifest.Chunks)
			fmt.Fprintf(out, "Ingestion done. Vector store persisted under %s.\n", storeLocation(cfg))
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in characters (overrides CHUNK_SIZE)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "chunk overlap in characters (overrides CHUNK_OVERLAP)")

	return cmd
}

func storeLocation(cfg *config.Config) string {
	if cfg.VectorEngine == config.EnginePostgres {
		return "PostgreSQL"
	}
	if rel, err := filepath.Rel(cfg.ProjectRoot, cfg.ChromaDir()); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return cfg.ChromaDir()
}

func (a *app) queryCommand() *cobra.Command {
	var (
		topK    int
		server  string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "query <question...>",
		Short: "Answer a question from the ingested documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			var (
				out *rag.RunOutput
				err error
			)
			if server != "" {
				out, err = client.NewClient(server).Query(cmd.Context(), question)
			} else {
				if cmd.Flags().Changed("top-k") {
					a.cfg.TopK = topK
				}
				out, err = a.runLocal(cmd, question)
			}
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printRun(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (overrides TOP_K)")
	cmd.Flags().StringVar(&server, "server", "", "query a running server at this URL instead of the local store")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full run as JSON")

	return cmd
}

func (a *app) runLocal(cmd *cobra.Command, question string) (*rag.RunOutput, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := rag.New(cmd.Context(), a.cfg)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return p.Run(cmd.Context(), question)
}

func printRun(w io.Writer, out *rag.RunOutput) {
	fmt.Fprintln(w, "Answer:", out.Answer)
	fmt.Fprintf(w, "Chunk IDs: [%s]\n", strings.Join(out.ChunkIDs, ", "))
	fmt.Fprintf(w, "Latency (s): %.3f\n", out.LatencySeconds)
}

func (a *app) evalCommand() *cobra.Command {
	var dataset, scorer, output string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the evaluation set through the pipeline and score the answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if dataset == "" {
				dataset = cfg.EvalDatasetPath()
			}

			examples, err := eval.LoadDataset(dataset)
			if errors.Is(err, eval.ErrDatasetNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "Eval dataset not found:", dataset)
				return err
			}
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			p, err := rag.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			s, err := eval.NewScorer(scorer, p.Embedder())
			if err != nil {
				return err
			}

			runner := &eval.Runner{
				Pipeline: p,
				Scorer:   s,
				Out:      cmd.OutOrStdout(),
			}
			report, err := runner.Run(cmd.Context(), examples)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "\nSummary:", report.Summary())

			if output != "" {
				if err := writeReport(output, report); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Report written to", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "eval dataset (JSON or YAML), defaults to DATA_DIR/eval_dataset.json")
	cmd.Flags().StringVar(&scorer, "scorer", eval.ScorerExact, "scorer: exact or semantic")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the full report as JSON to this file")

	return cmd
}

func writeReport(path string, report *eval.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeJSON(f, report)
}

func (a *app) runsCommand() *cobra.Command {
	var (
		limit  int
		server string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the most recent runs from the run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				records []runlog.Record
				err     error
			)
			if server != "" {
				records, err = client.NewClient(server).Runs(cmd.Context(), limit)
			} else {
				records, err = runlog.New(a.cfg.RunLogPath()).Recent(limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%s  %s  %.3fs  in %d / out %d  %s\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.RunID, r.LatencySeconds,
					r.InputTokens, r.OutputTokens, runlog.Truncate(r.Question, 60))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	cmd.Flags().StringVar(&server, "server", "", "read runs from a running server at this URL")

	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI and the JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.ListenAddress
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return startAPI(cmd.Context(), a.cfg, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides LISTEN_ADDRESS)")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
