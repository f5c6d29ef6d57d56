package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/loanflow/internal/mcptools"
)

func newMCPCmd(a *cli) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the intake workflow as MCP tools",
		Long: `Serve start_application, send_message, process_application and
get_application over MCP. Uses stdio unless --http is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			svc, err := a.openService(store)
			if err != nil {
				return err
			}

			server := mcptools.NewServer(svc)
			if httpAddr != "" {
				a.log.Info("mcp server listening", "addr", httpAddr)
				return mcptools.RunHTTP(ctx, server, httpAddr)
			}
			return mcptools.RunStdio(ctx, server)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
