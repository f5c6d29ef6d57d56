package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/loanflow/internal/agent"
	"github.com/dusk-indust/loanflow/internal/config"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/stages"
)

func newAgentsCmd(a *cli) *cobra.Command {
	var basePort int
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Serve the built-in assessment stages as A2A agents",
		Long: `Start one A2A agent per configured stage on sequential ports from
agents.base_port and print the pipeline.stages block that points a loanflow
server at them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if basePort == 0 {
				basePort = a.cfg.Agents.BasePort
			}
			reg := agent.NewRegistry(a.cfg.Stages(), a.log, stages.WithLatency(a.cfg.Agents.Latency))
			if _, err := reg.SpawnAll(ctx, basePort); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := reg.StopAll(stopCtx); err != nil {
					a.log.Error("stop agents", "error", err)
				}
			}()

			endpoints := reg.Endpoints()
			snippet := struct {
				Pipeline struct {
					Stages []config.StageConfig `yaml:"stages"`
				} `yaml:"pipeline"`
			}{}
			for _, sc := range a.cfg.Pipeline.Stages {
				sc.Endpoint = endpoints[orchestrator.StageID(sc.ID)]
				snippet.Pipeline.Stages = append(snippet.Pipeline.Stages, sc)
			}
			out, err := yaml.Marshal(snippet)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stage agents running. Point a server at them with:\n\n%s\n", len(endpoints), out)

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().IntVar(&basePort, "base-port", 0, "first port to listen on (default agents.base_port)")
	return cmd
}
