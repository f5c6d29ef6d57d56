package main

import (
	"context"
	"fmt"

	"github.com/dusk-indust/loanflow/internal/a2a"
	"github.com/dusk-indust/loanflow/internal/decision"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/service"
	"github.com/dusk-indust/loanflow/internal/session"
	"github.com/dusk-indust/loanflow/internal/stages"
)

// buildPipeline creates the pipeline described by the config. Stages with
// an endpoint are driven over A2A; the rest run the built-in assessors.
func (a *cli) buildPipeline() (*orchestrator.Pipeline, error) {
	list := a.cfg.Stages()
	client := a2a.NewHTTPClient()

	agents := make(map[orchestrator.StageID]orchestrator.StageAgent, len(list))
	for i, sc := range a.cfg.Pipeline.Stages {
		id := list[i].ID
		if sc.Endpoint != "" {
			agents[id] = stages.NewRemote(client, sc.Endpoint, a.log)
			continue
		}
		ag, err := stages.Builtin(id, stages.WithLatency(a.cfg.Agents.Latency))
		if err != nil {
			return nil, fmt.Errorf("stage %q has no endpoint: %w", id, err)
		}
		agents[id] = ag
	}

	synth := decision.NewSynthesizer(
		decision.WithDefaultTerms(a.cfg.Pipeline.DefaultRate, a.cfg.Pipeline.DefaultTerm))
	return orchestrator.NewPipeline(list, agents,
		orchestrator.WithDeadline(a.cfg.Pipeline.Deadline),
		orchestrator.WithBoundaryMode(a.cfg.Boundary()),
		orchestrator.WithSynthesizer(synth),
		orchestrator.WithLogger(a.log),
	)
}

// openStore opens the configured session store.
func (a *cli) openStore(ctx context.Context) (session.Store, error) {
	return session.Open(ctx, a.cfg.Session.Driver, a.cfg.Session.Path)
}

// openService builds the pipeline and a service over store. The caller
// still owns store.
func (a *cli) openService(store session.Store) (*service.Service, error) {
	p, err := a.buildPipeline()
	if err != nil {
		return nil, err
	}
	return service.New(store, p,
		service.WithAgentName(a.cfg.Assistant.Name),
		service.WithLogger(a.log),
	), nil
}
