package orchestrator

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/loanflow/internal/decision"
)

// UpdateStatus is the state reported by a ProcessingUpdate.
type UpdateStatus string

const (
	UpdateInProgress UpdateStatus = "in_progress"
	UpdateCompleted  UpdateStatus = "completed"
	UpdateError      UpdateStatus = "error"
)

// Phase names used on terminal updates.
const (
	PhaseComplete = "complete"
	PhaseError    = "error"
)

// ProcessingUpdate is the normalized, caller-facing progress event.
type ProcessingUpdate struct {
	Agent          string          `json:"agent"`
	Message        string          `json:"message"`
	Phase          string          `json:"phase"`
	Progress       int             `json:"progress"`
	Status         UpdateStatus    `json:"status"`
	AssessmentData *AssessmentData `json:"assessment_data,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// AssessmentData is the payload of the terminal success update.
type AssessmentData struct {
	Decision   *decision.Decision  `json:"decision"`
	Provenance decision.Provenance `json:"provenance"`
}

// IsTerminal reports whether u ends a run.
func (u ProcessingUpdate) IsTerminal() bool {
	return u.Status == UpdateError || (u.Status == UpdateCompleted && u.AssessmentData != nil)
}

// FormatUpdate formats a ProcessingUpdate as a human-readable status line.
func FormatUpdate(u ProcessingUpdate) string {
	switch {
	case u.Status == UpdateInProgress:
		return fmt.Sprintf("  ● [%3d%%] %s...", u.Progress, u.Agent)
	case u.Status == UpdateCompleted && u.AssessmentData != nil && u.AssessmentData.Decision != nil:
		return fmt.Sprintf("  ✓ [%3d%%] decision: %s", u.Progress, u.AssessmentData.Decision.Status)
	case u.Status == UpdateCompleted:
		return fmt.Sprintf("  ✓ [%3d%%] %s complete", u.Progress, u.Agent)
	case u.Status == UpdateError:
		return fmt.Sprintf("  ✗ [%3d%%] failed: %s", u.Progress, u.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", u.Agent)
	}
}

type trackState int

const (
	notStarted trackState = iota
	started
	completed
)

type stageTrack struct {
	stage Stage
	state trackState
	text  strings.Builder
}

// tracker follows each stage through NotStarted -> Started -> Completed and
// turns raw events into ProcessingUpdates. It is owned by a single run.
type tracker struct {
	byID     map[StageID]*stageTrack
	step     int
	mode     BoundaryMode
	progress int
}

func newTracker(stages []Stage, mode BoundaryMode) *tracker {
	t := &tracker{
		byID: make(map[StageID]*stageTrack, len(stages)),
		step: 100 / len(stages),
		mode: mode,
	}
	for _, s := range stages {
		t.byID[s.ID] = &stageTrack{stage: s}
	}
	return t
}

// observe applies one event for the stage being driven. Passthrough events
// produce no updates.
func (t *tracker) observe(id StageID, ev ProcessingEvent) []ProcessingUpdate {
	st := t.byID[id]
	if st == nil || ev.Kind == EventPassthrough {
		return nil
	}

	var out []ProcessingUpdate
	wasStarted := st.state == started
	if st.state == notStarted {
		out = append(out, t.start(st))
	}

	switch ev.Kind {
	case EventDelta:
		st.text.WriteString(ev.Text)
		if wasStarted && t.mode == BoundaryFirstContent && ev.contentBearing() {
			out = append(out, t.complete(st))
		}
	case EventSignal:
		if ev.Signal == SignalCompleted && st.state == started {
			out = append(out, t.complete(st))
		}
	}
	return out
}

// finish is called when a stage's stream is exhausted. A stage that never
// signalled is started and completed so every stage reports exactly one pair.
func (t *tracker) finish(id StageID) []ProcessingUpdate {
	st := t.byID[id]
	if st == nil {
		return nil
	}
	var out []ProcessingUpdate
	if st.state == notStarted {
		out = append(out, t.start(st))
	}
	if st.state == started {
		out = append(out, t.complete(st))
	}
	return out
}

func (t *tracker) text(id StageID) string {
	if st := t.byID[id]; st != nil {
		return st.text.String()
	}
	return ""
}

func (t *tracker) start(st *stageTrack) ProcessingUpdate {
	st.state = started
	t.progress = (st.stage.Ordinal - 1) * t.step
	return ProcessingUpdate{
		Agent:    st.stage.Label,
		Message:  fmt.Sprintf("%s is analyzing your application...", st.stage.Label),
		Phase:    string(st.stage.ID),
		Progress: t.progress,
		Status:   UpdateInProgress,
		Metadata: map[string]any{"stage": string(st.stage.ID), "ordinal": st.stage.Ordinal},
	}
}

func (t *tracker) complete(st *stageTrack) ProcessingUpdate {
	st.state = completed
	t.progress = st.stage.Ordinal * t.step
	return ProcessingUpdate{
		Agent:    st.stage.Label,
		Message:  fmt.Sprintf("%s complete", st.stage.Label),
		Phase:    string(st.stage.ID),
		Progress: t.progress,
		Status:   UpdateCompleted,
		Metadata: map[string]any{"stage": string(st.stage.ID), "ordinal": st.stage.Ordinal},
	}
}
