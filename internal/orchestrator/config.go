package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dusk-indust/loanflow/internal/decision"
)

// DefaultDeadline bounds an entire pipeline run, across all stages.
const DefaultDeadline = 300 * time.Second

// BoundaryMode selects how the orchestrator decides a stage has completed.
type BoundaryMode int

const (
	// BoundaryExplicit completes a stage on its StageSignal{completed}. If
	// the agent never sends one, completion is inferred when the stage's
	// stream ends or a later stage starts.
	BoundaryExplicit BoundaryMode = iota

	// BoundaryFirstContent completes a stage on the first content-bearing
	// event after it started. Kept for agents that never signal.
	BoundaryFirstContent
)

func (m BoundaryMode) String() string {
	switch m {
	case BoundaryExplicit:
		return "explicit"
	case BoundaryFirstContent:
		return "first-content"
	default:
		return "unknown"
	}
}

// ParseBoundaryMode parses the config spelling of a BoundaryMode. The empty
// string selects BoundaryExplicit.
func ParseBoundaryMode(s string) (BoundaryMode, error) {
	switch s {
	case "", "explicit":
		return BoundaryExplicit, nil
	case "first-content":
		return BoundaryFirstContent, nil
	default:
		return 0, fmt.Errorf("orchestrator: unknown boundary mode %q", s)
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeadline overrides the global run deadline.
func WithDeadline(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.deadline = d
		}
	}
}

// WithBoundaryMode selects the stage completion rule.
func WithBoundaryMode(m BoundaryMode) Option {
	return func(p *Pipeline) {
		p.boundary = m
	}
}

// WithSynthesizer replaces the default DecisionSynthesizer.
func WithSynthesizer(s *decision.Synthesizer) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.synth = s
		}
	}
}

// WithLogger sets the logger used for stage transitions and failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}
