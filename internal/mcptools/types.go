package mcptools

import (
	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/decision"
)

// StartApplicationInput is the input for the start_application tool.
type StartApplicationInput struct{}

// SendMessageInput is the input for the send_message tool.
type SendMessageInput struct {
	SessionID string `json:"sessionId" jsonschema:"session returned by start_application"`
	Message   string `json:"message" jsonschema:"the applicant's reply, e.g. a price, a percentage or the personal-info JSON"`
}

// SessionInput identifies a session for process_application and
// get_application.
type SessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"session returned by start_application"`
}

// TurnOutput is the assistant's reply to one turn.
type TurnOutput struct {
	SessionID    string           `json:"sessionId"`
	State        string           `json:"state"`
	Action       string           `json:"action"`
	Message      string           `json:"message"`
	Completion   int              `json:"completion"`
	QuickReplies []string         `json:"quickReplies"`
	Application  application.Data `json:"application"`
}

// ProcessOutput is the outcome of an assessment run.
type ProcessOutput struct {
	SessionID  string             `json:"sessionId"`
	Status     string             `json:"status"` // "completed" or "error"
	Steps      []string           `json:"steps"`
	Decision   *decision.Decision `json:"decision,omitempty"`
	Provenance string             `json:"provenance,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// ApplicationOutput is a session snapshot.
type ApplicationOutput struct {
	SessionID   string             `json:"sessionId"`
	State       string             `json:"state"`
	Completion  int                `json:"completion"`
	Processed   bool               `json:"processed"`
	Application application.Data   `json:"application"`
	Decision    *decision.Decision `json:"decision,omitempty"`
	UpdatedAt   string             `json:"updatedAt"`
}
