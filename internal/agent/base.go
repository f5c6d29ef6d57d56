package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dusk-indust/loanflow/internal/a2a"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/stages"
)

// Compile-time interface checks.
var (
	_ Agent       = (*StageServer)(nil)
	_ a2a.Handler = (*StageServer)(nil)
)

// StageServer adapts an orchestrator.StageAgent to the A2A handler contract.
// Signals become status updates and text fragments become artifact chunks.
type StageServer struct {
	stage  orchestrator.Stage
	agent  orchestrator.StageAgent
	card   a2a.AgentCard
	server *a2a.Server
	log    *slog.Logger
}

// NewStageServer wraps ag as an agent for stage.
func NewStageServer(stage orchestrator.Stage, ag orchestrator.StageAgent, log *slog.Logger) *StageServer {
	if log == nil {
		log = slog.Default()
	}
	s := &StageServer{
		stage: stage,
		agent: ag,
		card:  stageCard(stage),
		log:   log.With("stage", stage.ID),
	}
	s.server = a2a.NewServer(s.card, s, s.log)
	return s
}

func stageCard(stage orchestrator.Stage) a2a.AgentCard {
	return a2a.AgentCard{
		Name:         stage.Label,
		Description:  fmt.Sprintf("%s stage of the mortgage assessment pipeline", stage.Label),
		Version:      Version,
		Capabilities: a2a.AgentCapabilities{Streaming: true},
		Skills: []a2a.AgentSkill{{
			ID:          string(stage.ID),
			Name:        stage.Label,
			Description: "Assesses a rendered mortgage application and streams its findings.",
			Tags:        []string{"mortgage", string(stage.ID)},
		}},
	}
}

// Card returns the agent's Agent Card.
func (s *StageServer) Card() a2a.AgentCard {
	return s.card
}

// Start launches the agent's HTTP server on the given address.
func (s *StageServer) Start(ctx context.Context, addr string) error {
	if err := s.server.Start(ctx, addr); err != nil {
		return err
	}
	s.log.Info("stage agent listening", "endpoint", s.Endpoint())
	return nil
}

// Endpoint returns the JSON-RPC URL, or "" before Start.
func (s *StageServer) Endpoint() string {
	addr := s.server.Addr()
	if addr == nil {
		return ""
	}
	return "http://" + addr.String() + "/"
}

// Stop gracefully shuts down the agent.
func (s *StageServer) Stop(ctx context.Context) error {
	return s.server.Stop(ctx)
}

// run decodes msg and starts the wrapped agent.
func (s *StageServer) run(ctx context.Context, msg a2a.Message) (<-chan orchestrator.ProcessingEvent, error) {
	req, err := stages.DecodeRequest(msg)
	if err != nil {
		return nil, err
	}
	if req.Stage.ID == "" {
		req.Stage = s.stage
	}
	return s.agent.Run(ctx, req)
}

// HandleStreamMessage streams the stage's events as they happen.
func (s *StageServer) HandleStreamMessage(ctx context.Context, req a2a.SendMessageRequest, emit a2a.EmitFunc) error {
	events, err := s.run(ctx, req.Message)
	if err != nil {
		return err
	}

	taskID := a2a.NewTaskID()
	contextID := req.Message.ContextID
	status := func(state a2a.TaskState, text string) a2a.StreamEvent {
		st := a2a.TaskStatus{State: state, Timestamp: time.Now()}
		if text != "" {
			st.Message = &a2a.Message{MessageID: a2a.NewMessageID(), Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart(text)}}
		}
		return a2a.StreamEvent{StatusUpdate: &a2a.TaskStatusUpdateEvent{
			TaskID:    taskID,
			ContextID: contextID,
			Status:    st,
			Final:     state.IsTerminal(),
		}}
	}

	artifactID := "art-" + string(s.stage.ID)
	done := false
	for ev := range events {
		var out a2a.StreamEvent
		switch {
		case ev.Err != nil:
			return emit(status(a2a.TaskStateFailed, ev.Err.Error()))
		case ev.Kind == orchestrator.EventSignal && ev.Signal == orchestrator.SignalStarted:
			out = status(a2a.TaskStateWorking, "")
		case ev.Kind == orchestrator.EventSignal && ev.Signal == orchestrator.SignalCompleted:
			if done {
				continue
			}
			done = true
			out = status(a2a.TaskStateCompleted, "")
		case ev.Kind == orchestrator.EventDelta:
			out = a2a.StreamEvent{ArtifactUpdate: &a2a.TaskArtifactUpdateEvent{
				TaskID:    taskID,
				ContextID: contextID,
				Artifact: a2a.Artifact{
					ArtifactID: artifactID,
					Name:       string(s.stage.ID),
					Parts:      []a2a.Part{a2a.TextPart(ev.Text)},
				},
				Append: true,
			}}
		default:
			out = a2a.StreamEvent{Message: &a2a.Message{
				MessageID: a2a.NewMessageID(),
				TaskID:    taskID,
				Role:      a2a.RoleAgent,
				Parts:     []a2a.Part{{Data: ev.Payload, MediaType: "application/json"}},
			}}
		}
		if err := emit(out); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !done {
		return emit(status(a2a.TaskStateCompleted, ""))
	}
	return nil
}

// HandleSendMessage runs the stage to completion and returns one task with
// the concatenated text as its artifact.
func (s *StageServer) HandleSendMessage(ctx context.Context, req a2a.SendMessageRequest) (*a2a.Task, error) {
	events, err := s.run(ctx, req.Message)
	if err != nil {
		return nil, err
	}

	task := &a2a.Task{
		ID:        a2a.NewTaskID(),
		ContextID: req.Message.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateCompleted},
	}

	var text strings.Builder
	for ev := range events {
		if ev.Err != nil {
			task.Status = a2a.TaskStatus{
				State:   a2a.TaskStateFailed,
				Message: &a2a.Message{MessageID: a2a.NewMessageID(), Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart(ev.Err.Error())}},
			}
			break
		}
		if ev.Kind == orchestrator.EventDelta {
			text.WriteString(ev.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	task.Status.Timestamp = time.Now()
	if text.Len() > 0 {
		task.Artifacts = []a2a.Artifact{{
			ArtifactID: "art-" + string(s.stage.ID),
			Name:       string(s.stage.ID),
			Parts:      []a2a.Part{a2a.TextPart(text.String())},
		}}
	}
	return task, nil
}
