package mcptools

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/service"
)

// IntakeTools handles MCP tool calls by delegating to the intake service.
type IntakeTools struct {
	svc *service.Service
}

// NewIntakeTools creates IntakeTools over svc.
func NewIntakeTools(svc *service.Service) *IntakeTools {
	return &IntakeTools{svc: svc}
}

func turnOutput(t service.Turn) TurnOutput {
	replies := make([]string, len(t.Response.QuickReplies))
	for i, qr := range t.Response.QuickReplies {
		replies[i] = qr.Value
	}
	return TurnOutput{
		SessionID:    t.Session.ID,
		State:        string(t.Session.State),
		Action:       string(t.Response.Action),
		Message:      t.Response.Message,
		Completion:   t.Response.CompletionPercentage,
		QuickReplies: replies,
		Application:  t.Session.Data,
	}
}

func requireSession(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("sessionId is required")
	}
	return nil
}

// StartApplication opens a new intake session and returns the greeting.
func (h *IntakeTools) StartApplication(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ StartApplicationInput,
) (*mcp.CallToolResult, TurnOutput, error) {
	turn, err := h.svc.StartSession(ctx)
	if err != nil {
		return nil, TurnOutput{}, err
	}
	return nil, turnOutput(turn), nil
}

// SendMessage applies one applicant reply.
func (h *IntakeTools) SendMessage(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SendMessageInput,
) (*mcp.CallToolResult, TurnOutput, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, TurnOutput{}, err
	}
	turn, err := h.svc.SendMessage(ctx, input.SessionID, input.Message)
	if err != nil {
		return nil, TurnOutput{}, err
	}
	return nil, turnOutput(turn), nil
}

// ProcessApplication runs the assessment to completion. A failed run is
// reported in the output, not as a tool error.
func (h *IntakeTools) ProcessApplication(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SessionInput,
) (*mcp.CallToolResult, ProcessOutput, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, ProcessOutput{}, err
	}
	updates, err := h.svc.Process(ctx, input.SessionID)
	if err != nil {
		return nil, ProcessOutput{}, err
	}

	out := ProcessOutput{SessionID: input.SessionID, Status: "error", Steps: []string{}}
	for u := range updates {
		out.Steps = append(out.Steps, strings.TrimSpace(orchestrator.FormatUpdate(u)))
		switch {
		case u.Status == orchestrator.UpdateError:
			out.Error = u.Message
		case u.Status == orchestrator.UpdateCompleted && u.AssessmentData != nil:
			out.Status = string(orchestrator.UpdateCompleted)
			out.Decision = u.AssessmentData.Decision
			out.Provenance = string(u.AssessmentData.Provenance)
		}
	}
	return nil, out, nil
}

// GetApplication returns the session's collected data and decision.
func (h *IntakeTools) GetApplication(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SessionInput,
) (*mcp.CallToolResult, ApplicationOutput, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, ApplicationOutput{}, err
	}
	sess, err := h.svc.Get(ctx, input.SessionID)
	if err != nil {
		return nil, ApplicationOutput{}, err
	}
	return nil, ApplicationOutput{
		SessionID:   sess.ID,
		State:       string(sess.State),
		Completion:  conversation.Completion(sess.State),
		Processed:   sess.Processed,
		Application: sess.Data,
		Decision:    sess.Decision,
		UpdatedAt:   sess.UpdatedAt.Format(time.RFC3339),
	}, nil
}
