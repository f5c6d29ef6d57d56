package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/stages"
)

// Registry builds stage agents and manages the lifecycle of the ones it
// spawned.
type Registry struct {
	mu      sync.Mutex
	stages  []orchestrator.Stage
	opts    []stages.Option
	log     *slog.Logger
	spawned []Agent
}

// NewRegistry creates a Registry for the given stage list. Built-in agents
// are constructed with opts.
func NewRegistry(list []orchestrator.Stage, log *slog.Logger, opts ...stages.Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		stages: append([]orchestrator.Stage(nil), list...),
		opts:   opts,
		log:    log,
	}
}

// Spawn creates an unstarted agent for one stage.
func (r *Registry) Spawn(id orchestrator.StageID) (Agent, error) {
	for _, s := range r.stages {
		if s.ID != id {
			continue
		}
		ag, err := stages.Builtin(id, r.opts...)
		if err != nil {
			return nil, err
		}
		return NewStageServer(s, ag, r.log), nil
	}
	return nil, fmt.Errorf("no stage registered with id %q", id)
}

// SpawnAll creates an agent per stage and starts them on sequential ports
// from basePort, in stage order. If any agent fails to start, the ones
// already running are stopped.
func (r *Registry) SpawnAll(ctx context.Context, basePort int) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make([]Agent, len(r.stages))
	for i, s := range r.stages {
		ag, err := r.Spawn(s.ID)
		if err != nil {
			return nil, err
		}
		agents[i] = ag
	}

	started := make([]bool, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	for i, ag := range agents {
		addr := fmt.Sprintf("127.0.0.1:%d", basePort+i)
		g.Go(func() error {
			if err := ag.Start(gctx, addr); err != nil {
				return fmt.Errorf("start agent %q on %s: %w", r.stages[i].ID, addr, err)
			}
			started[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for i := len(agents) - 1; i >= 0; i-- {
			if started[i] {
				_ = agents[i].Stop(ctx)
			}
		}
		return nil, err
	}

	r.spawned = append(r.spawned, agents...)
	return agents, nil
}

// Endpoints maps each spawned stage to its JSON-RPC URL.
func (r *Registry) Endpoints() map[orchestrator.StageID]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[orchestrator.StageID]string, len(r.spawned))
	for _, ag := range r.spawned {
		if len(ag.Card().Skills) > 0 {
			out[orchestrator.StageID(ag.Card().Skills[0].ID)] = ag.Endpoint()
		}
	}
	return out
}

// StopAll gracefully stops all spawned agents in reverse order.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for i := len(r.spawned) - 1; i >= 0; i-- {
		if err := r.spawned[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.spawned = nil
	return firstErr
}
