package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/tracing"
	"github.com/mudler/xlog"
	"github.com/spf13/cobra"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

// app carries what every command shares: the loaded configuration and the
// tracer provider set up before the command runs.
type app struct {
	envFile  string
	dataDir  string
	docsDir  string
	cfg      *config.Config
	provider *tracing.Provider
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := a.rootCommand().ExecuteContext(ctx)
	a.shutdown()
	stop()

	if err != nil {
		xlog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragscope",
		Short:         "Question answering over local documents with run logging and evaluation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			a.shutdown()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "environment file to load (defaults to .env)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "directory for the vector store, run log and eval set (overrides DATA_DIR)")
	root.PersistentFlags().StringVar(&a.docsDir, "docs-dir", "", "documents directory (overrides DOCS_DIR)")

	root.AddCommand(
		a.ingestCommand(),
		a.queryCommand(),
		a.evalCommand(),
		a.runsCommand(),
		a.serveCommand(),
	)

	return root
}

func (a *app) setup(ctx context.Context) error {
	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.docsDir != "" {
		cfg.DocsDir = a.docsDir
	}
	a.cfg = cfg

	provider, err := tracing.NewProvider(ctx, tracing.OptionsFromConfig(cfg, version))
	if err != nil {
		return err
	}
	a.provider = provider

	return nil
}

// shutdown flushes pending spans. It is safe to call more than once.
func (a *app) shutdown() {
	if a.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.provider.Shutdown(ctx); err != nil {
		xlog.Warn("Failed to flush traces", "error", err)
	}
	a.provider = nil
}
