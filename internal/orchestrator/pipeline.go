package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/decision"
)

// ErrTimeout is wrapped by the terminal error when the global deadline
// expires.
var ErrTimeout = errors.New("processing timed out")

// Pipeline drives an ordered chain of StageAgents and normalizes their
// streams into ProcessingUpdates. The stage list is fixed at construction.
// A Pipeline is safe for concurrent use; every Process call gets its own
// independent run.
type Pipeline struct {
	stages   []Stage
	agents   map[StageID]StageAgent
	deadline time.Duration
	boundary BoundaryMode
	synth    *decision.Synthesizer
	log      *slog.Logger
}

// NewPipeline validates the stage list and returns a Pipeline. Every stage
// needs a registered agent; the last stage is the decision stage. Ordinals
// are assigned from list position.
func NewPipeline(stages []Stage, agents map[StageID]StageAgent, opts ...Option) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("orchestrator: at least one stage is required")
	}

	p := &Pipeline{
		stages:   make([]Stage, len(stages)),
		agents:   make(map[StageID]StageAgent, len(stages)),
		deadline: DefaultDeadline,
		boundary: BoundaryExplicit,
		synth:    decision.NewSynthesizer(),
		log:      slog.Default(),
	}

	seen := make(map[StageID]bool, len(stages))
	for i, s := range stages {
		if s.ID == "" {
			return nil, fmt.Errorf("orchestrator: stage %d has no id", i+1)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("orchestrator: duplicate stage %q", s.ID)
		}
		seen[s.ID] = true

		agent, ok := agents[s.ID]
		if !ok || agent == nil {
			return nil, fmt.Errorf("orchestrator: no agent registered for stage %q", s.ID)
		}
		s.Ordinal = i + 1
		if s.Label == "" {
			s.Label = string(s.ID)
		}
		p.stages[i] = s
		p.agents[s.ID] = agent
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Stages returns a copy of the ordered stage list.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Deadline returns the global run deadline.
func (p *Pipeline) Deadline() time.Duration { return p.deadline }

// Process starts a fresh run for app. The returned sequence is lazy and
// single-use: stages are driven only while the caller iterates, and ranging
// over it a second time yields nothing.
//
// A run yields per-stage in_progress/completed pairs followed by exactly one
// terminal update: either completed with a Decision, or error.
func (p *Pipeline) Process(ctx context.Context, app application.Data) iter.Seq[ProcessingUpdate] {
	r := &run{p: p, app: app.Clone()}
	return func(yield func(ProcessingUpdate) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			return
		}
		r.execute(ctx, yield)
	}
}

type run struct {
	p        *Pipeline
	app      application.Data
	consumed atomic.Bool
}

func (r *run) execute(parent context.Context, yield func(ProcessingUpdate) bool) {
	ctx, cancel := context.WithTimeout(parent, r.p.deadline)
	defer cancel()

	t := newTracker(r.p.stages, r.p.boundary)
	payload := r.app.Render()
	var prior []StageOutput

	emit := func(us []ProcessingUpdate) bool {
		for _, u := range us {
			r.p.log.Debug("pipeline update", "stage", u.Phase, "status", u.Status, "progress", u.Progress)
			if !yield(u) {
				return false
			}
		}
		return true
	}

	for _, stage := range r.p.stages {
		req := StageRequest{
			Stage:        stage,
			Application:  r.app.Clone(),
			Payload:      payload,
			PriorOutputs: append([]StageOutput(nil), prior...),
		}

		events, err := r.open(ctx, parent, stage, req)
		if err != nil {
			r.fail(yield, t, stage, err)
			return
		}

		active, err := r.drain(ctx, parent, stage, events, t, emit)
		if !active {
			return
		}
		if err != nil {
			r.fail(yield, t, stage, err)
			return
		}
		if !emit(t.finish(stage.ID)) {
			return
		}
		prior = append(prior, StageOutput{Stage: stage.ID, Text: t.text(stage.ID)})
	}

	last := r.p.stages[len(r.p.stages)-1]
	res := r.p.synth.Synthesize(t.text(last.ID), r.app)
	if res.Fallback() {
		r.p.log.Warn("decision output unparseable, using manual review fallback", "error", res.ParseErr)
	}
	yield(r.success(last, res))
}

// opened is the outcome of a stage agent's Run call.
type opened struct {
	events <-chan ProcessingEvent
	err    error
}

// open starts a stage agent under the run's deadline. Run is called on its
// own goroutine so a slow or hung agent cannot hold the run past the
// deadline. Panics raised synchronously by the agent are converted into
// errors.
func (r *run) open(ctx, parent context.Context, stage Stage, req StageRequest) (<-chan ProcessingEvent, error) {
	done := make(chan opened, 1)
	go func() {
		var o opened
		defer func() {
			if rec := recover(); rec != nil {
				o = opened{err: fmt.Errorf("stage agent panicked: %v", rec)}
			}
			done <- o
		}()
		o.events, o.err = r.p.agents[stage.ID].Run(ctx, req)
		if o.err == nil && o.events == nil {
			o.err = errors.New("stage agent returned no event stream")
		}
	}()

	select {
	case <-ctx.Done():
		return nil, r.contextErr(parent)
	case o := <-done:
		if o.err != nil {
			if ctx.Err() != nil {
				return nil, r.contextErr(parent)
			}
			return nil, fmt.Errorf("%s: %w", stage.Label, o.err)
		}
		return o.events, nil
	}
}

// drain consumes one stage's stream until it closes, fails, or the context
// ends. active is false when the consumer stopped iterating.
func (r *run) drain(
	ctx, parent context.Context,
	stage Stage,
	events <-chan ProcessingEvent,
	t *tracker,
	emit func([]ProcessingUpdate) bool,
) (active bool, err error) {
	for {
		if ctx.Err() != nil {
			return true, r.contextErr(parent)
		}

		select {
		case <-ctx.Done():
			return true, r.contextErr(parent)

		case ev, ok := <-events:
			if !ok {
				// A stream closed because the run was cut off is not a
				// successful stage.
				if ctx.Err() != nil {
					return true, r.contextErr(parent)
				}
				return true, nil
			}
			if ev.Err != nil {
				return true, fmt.Errorf("%s: %w", stage.Label, ev.Err)
			}

			id := ev.StageID
			if id == "" {
				id = stage.ID
			}
			if id != stage.ID {
				r.p.log.Warn("dropping event for stage not being driven",
					"stage", stage.ID, "event_stage", id, "kind", ev.Kind)
				continue
			}
			if ev.Kind == EventPassthrough {
				r.p.log.Debug("passthrough event", "stage", stage.ID, "bytes", len(ev.Payload))
				continue
			}
			if !emit(t.observe(id, ev)) {
				return false, nil
			}
		}
	}
}

func (r *run) contextErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("processing canceled: %w", err)
	}
	return fmt.Errorf("%w after %s", ErrTimeout, r.p.deadline)
}

func (r *run) fail(yield func(ProcessingUpdate) bool, t *tracker, stage Stage, err error) {
	kind := "stage_failure"
	switch {
	case errors.Is(err, ErrTimeout):
		kind = "timeout"
	case errors.Is(err, context.Canceled):
		kind = "canceled"
	}
	r.p.log.Error("pipeline failed", "stage", stage.ID, "kind", kind, "error", err)

	yield(ProcessingUpdate{
		Agent:    stage.Label,
		Message:  err.Error(),
		Phase:    PhaseError,
		Progress: t.progress,
		Status:   UpdateError,
		Metadata: map[string]any{"stage": string(stage.ID), "error": kind},
	})
}

func (r *run) success(last Stage, res decision.Result) ProcessingUpdate {
	d := res.Decision
	meta := map[string]any{"fallback": res.Fallback()}
	if res.OverallRisk != "" {
		meta["overall_risk"] = res.OverallRisk
	}
	return ProcessingUpdate{
		Agent:    last.Label,
		Message:  fmt.Sprintf("Assessment complete: %s", d.Status),
		Phase:    PhaseComplete,
		Progress: 100,
		Status:   UpdateCompleted,
		AssessmentData: &AssessmentData{
			Decision:   &d,
			Provenance: res.Provenance,
		},
		Metadata: meta,
	}
}
