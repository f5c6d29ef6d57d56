package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dusk-indust/loanflow/internal/a2a"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
)

// Remote drives a stage served by another process. It prefers message/stream
// and falls back to a blocking message/send when the agent cannot stream.
type Remote struct {
	client   a2a.Client
	endpoint string
	log      *slog.Logger
}

// NewRemote returns a StageAgent that forwards requests to endpoint.
func NewRemote(client a2a.Client, endpoint string, log *slog.Logger) *Remote {
	if log == nil {
		log = slog.Default()
	}
	return &Remote{client: client, endpoint: endpoint, log: log}
}

// EncodeRequest packs a StageRequest into an A2A message: the structured
// request as a data part followed by the rendered payload as text.
func EncodeRequest(req orchestrator.StageRequest) (a2a.SendMessageRequest, error) {
	data, err := a2a.DataPart(req)
	if err != nil {
		return a2a.SendMessageRequest{}, fmt.Errorf("stages: encode request: %w", err)
	}
	return a2a.SendMessageRequest{Message: a2a.Message{
		MessageID: a2a.NewMessageID(),
		Role:      a2a.RoleUser,
		Parts:     []a2a.Part{data, a2a.TextPart(req.Payload)},
	}}, nil
}

// DecodeRequest is the inverse of EncodeRequest. A message with no data part
// yields a request carrying only the text payload.
func DecodeRequest(msg a2a.Message) (orchestrator.StageRequest, error) {
	var req orchestrator.StageRequest
	for _, p := range msg.Parts {
		if len(p.Data) == 0 {
			continue
		}
		if err := json.Unmarshal(p.Data, &req); err != nil {
			return req, fmt.Errorf("stages: decode request: %w", err)
		}
		return req, nil
	}
	req.Payload = msg.Text()
	return req, nil
}

// Run implements orchestrator.StageAgent.
func (r *Remote) Run(ctx context.Context, req orchestrator.StageRequest) (<-chan orchestrator.ProcessingEvent, error) {
	msg, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := r.client.StreamMessage(ctx, r.endpoint, msg)
	if errors.Is(err, a2a.ErrStreamingUnsupported) {
		r.log.Debug("remote stage cannot stream, using message/send", "stage", req.Stage.ID, "endpoint", r.endpoint)
		return r.blocking(ctx, req.Stage.ID, msg), nil
	}
	if err != nil {
		return nil, err
	}

	out := make(chan orchestrator.ProcessingEvent)
	go func() {
		defer close(out)
		for ev := range stream {
			for _, pe := range translate(req.Stage.ID, ev) {
				select {
				case out <- pe:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Remote) blocking(ctx context.Context, id orchestrator.StageID, msg a2a.SendMessageRequest) <-chan orchestrator.ProcessingEvent {
	out := make(chan orchestrator.ProcessingEvent)
	go func() {
		defer close(out)

		var events []orchestrator.ProcessingEvent
		task, err := r.client.SendMessage(ctx, r.endpoint, msg)
		if err != nil {
			events = []orchestrator.ProcessingEvent{orchestrator.Failure(id, err)}
		} else {
			events = translate(id, a2a.StreamEvent{Task: task})
		}

		for _, pe := range events {
			select {
			case out <- pe:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// translate maps one A2A stream event onto ProcessingEvents for stage id.
func translate(id orchestrator.StageID, ev a2a.StreamEvent) []orchestrator.ProcessingEvent {
	switch {
	case ev.Err != nil:
		return []orchestrator.ProcessingEvent{orchestrator.Failure(id, ev.Err)}

	case ev.StatusUpdate != nil:
		return fromStatus(id, ev.StatusUpdate.Status)

	case ev.ArtifactUpdate != nil:
		return fromParts(id, ev.ArtifactUpdate.Artifact.Parts)

	case ev.Message != nil:
		return fromParts(id, ev.Message.Parts)

	case ev.Task != nil:
		var out []orchestrator.ProcessingEvent
		for _, a := range ev.Task.Artifacts {
			out = append(out, fromParts(id, a.Parts)...)
		}
		return append(out, fromStatus(id, ev.Task.Status)...)
	}
	return nil
}

func fromStatus(id orchestrator.StageID, st a2a.TaskStatus) []orchestrator.ProcessingEvent {
	switch st.State {
	case a2a.TaskStateWorking:
		return []orchestrator.ProcessingEvent{orchestrator.Started(id)}
	case a2a.TaskStateCompleted:
		return []orchestrator.ProcessingEvent{orchestrator.Completed(id)}
	case a2a.TaskStateFailed, a2a.TaskStateCanceled:
		reason := fmt.Sprintf("remote stage %s", st.State)
		if st.Message != nil && st.Message.Text() != "" {
			reason += ": " + st.Message.Text()
		}
		return []orchestrator.ProcessingEvent{orchestrator.Failure(id, errors.New(reason))}
	}
	return nil
}

func fromParts(id orchestrator.StageID, parts []a2a.Part) []orchestrator.ProcessingEvent {
	var out []orchestrator.ProcessingEvent
	for _, p := range parts {
		switch {
		case p.Text != "":
			out = append(out, orchestrator.Delta(id, p.Text))
		case len(p.Data) > 0:
			out = append(out, orchestrator.Passthrough(id, p.Data))
		}
	}
	return out
}
