package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/dusk-indust/loanflow/internal/application"
)

// StageID identifies an assessment stage.
type StageID string

const (
	StageIntake   StageID = "intake"
	StageCredit   StageID = "credit"
	StageIncome   StageID = "income"
	StageDecision StageID = "decision"
)

// Stage is a static descriptor of one step in the assessment sequence.
type Stage struct {
	ID      StageID `json:"id" yaml:"id"`
	Ordinal int     `json:"ordinal" yaml:"-"`
	Label   string  `json:"label" yaml:"label"`
}

// DefaultStages returns the standard four-stage mortgage assessment. The
// last stage is the decision stage.
func DefaultStages() []Stage {
	return []Stage{
		{ID: StageIntake, Ordinal: 1, Label: "Application Intake"},
		{ID: StageCredit, Ordinal: 2, Label: "Credit Assessment"},
		{ID: StageIncome, Ordinal: 3, Label: "Income Verification"},
		{ID: StageDecision, Ordinal: 4, Label: "Risk Decision"},
	}
}

// EventKind discriminates the ProcessingEvent union.
type EventKind int

const (
	// EventPassthrough carries an opaque payload the orchestrator does not
	// interpret.
	EventPassthrough EventKind = iota
	// EventDelta carries a text fragment.
	EventDelta
	// EventSignal marks a stage boundary.
	EventSignal
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventSignal:
		return "signal"
	default:
		return "passthrough"
	}
}

// Signal is the kind of boundary marker a stage emits.
type Signal string

const (
	SignalStarted   Signal = "started"
	SignalCompleted Signal = "completed"
)

// ProcessingEvent is one raw item from a StageAgent stream. StageID may be
// empty, in which case the event belongs to the stage being driven. A
// non-nil Err aborts the run.
type ProcessingEvent struct {
	Kind    EventKind
	StageID StageID
	Text    string
	Signal  Signal
	Payload json.RawMessage
	Err     error
}

// Delta creates a text fragment event.
func Delta(stage StageID, text string) ProcessingEvent {
	return ProcessingEvent{Kind: EventDelta, StageID: stage, Text: text}
}

// Started creates an explicit stage-start marker.
func Started(stage StageID) ProcessingEvent {
	return ProcessingEvent{Kind: EventSignal, StageID: stage, Signal: SignalStarted}
}

// Completed creates an explicit stage-completion marker.
func Completed(stage StageID) ProcessingEvent {
	return ProcessingEvent{Kind: EventSignal, StageID: stage, Signal: SignalCompleted}
}

// Passthrough creates an opaque event.
func Passthrough(stage StageID, payload json.RawMessage) ProcessingEvent {
	return ProcessingEvent{Kind: EventPassthrough, StageID: stage, Payload: payload}
}

// Failure creates an event that aborts the run with err.
func Failure(stage StageID, err error) ProcessingEvent {
	return ProcessingEvent{StageID: stage, Err: err}
}

// contentBearing reports whether the event carries stage output.
func (e ProcessingEvent) contentBearing() bool {
	return e.Kind == EventDelta && e.Text != ""
}

// StageOutput is the accumulated text a completed stage produced.
type StageOutput struct {
	Stage StageID `json:"stage"`
	Text  string  `json:"text"`
}

// StageRequest is what a StageAgent receives. Payload is the rendered
// application shared by every stage.
type StageRequest struct {
	Stage        Stage            `json:"stage"`
	Application  application.Data `json:"application"`
	Payload      string           `json:"payload"`
	PriorOutputs []StageOutput    `json:"priorOutputs,omitempty"`
}

// StageAgent is the external executor for one stage. Run returns a stream of
// events that the agent closes when the stage is finished. Agents must stop
// sending once ctx is done.
type StageAgent interface {
	Run(ctx context.Context, req StageRequest) (<-chan ProcessingEvent, error)
}

// StageAgentFunc adapts a function to the StageAgent interface.
type StageAgentFunc func(ctx context.Context, req StageRequest) (<-chan ProcessingEvent, error)

// Run calls f.
func (f StageAgentFunc) Run(ctx context.Context, req StageRequest) (<-chan ProcessingEvent, error) {
	return f(ctx, req)
}
