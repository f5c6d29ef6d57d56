// Package agent serves assessment stages as standalone A2A agents.
package agent

import (
	"context"

	"github.com/dusk-indust/loanflow/internal/a2a"
)

// Agent is a stage exposed over HTTP.
type Agent interface {
	// Card returns the agent's Agent Card.
	Card() a2a.AgentCard

	// Start launches the agent's HTTP server on the given address.
	Start(ctx context.Context, addr string) error

	// Endpoint returns the JSON-RPC URL once the agent is started.
	Endpoint() string

	// Stop gracefully shuts down the agent.
	Stop(ctx context.Context) error
}

// Version is reported in every Agent Card.
const Version = "1.0.0"
