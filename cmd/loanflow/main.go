// Command loanflow runs the mortgage intake assistant: an HTTP API, an MCP
// tool server, a terminal chat and the assessment stage agents.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/loanflow/internal/config"
	"github.com/dusk-indust/loanflow/internal/logging"
)

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand.
type cli struct {
	cfgPath  string
	logLevel string
	cfg      *config.Config
	log      *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &cli{}
	root := &cobra.Command{
		Use:   "loanflow",
		Short: "loanflow: conversational mortgage intake and assessment",
		Long: `loanflow collects a mortgage application through a scripted conversation and
runs it through a staged assessment pipeline (intake, credit, income, decision).

Settings are read from loanflow.yml, $LOANFLOW_CONFIG, or --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(a.cfgPath))
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			a.cfg = cfg
			a.log = logging.Init(cfg.Log)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newAgentsCmd(a),
		newChatCmd(a),
		newMCPCmd(a),
		newSessionsCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the loanflow version",
		// Skip config loading.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loanflow version %s\n", version)
		},
	}
}
