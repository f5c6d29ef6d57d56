package a2a

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of a stage task.
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

// IsTerminal returns true if the task state is a final state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// Role identifies the sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Task is the unit of work a stage agent performs for one request.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// TaskStatus tracks the current state and when it changed.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a unit of communication between client and agent.
type Message struct {
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	return joinText(m.Parts)
}

// Part carries content within a message or artifact. Exactly one of Text or
// Data is set.
type Part struct {
	Text      string          `json:"text,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	MediaType string          `json:"mediaType,omitempty"`
}

// TextPart creates a Part with text content.
func TextPart(text string) Part {
	return Part{Text: text, MediaType: "text/plain"}
}

// DataPart creates a Part with structured JSON data.
func DataPart(v any) (Part, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Part{}, err
	}
	return Part{Data: data, MediaType: "application/json"}, nil
}

// Artifact is output produced by an agent for a task.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name"`
	Parts      []Part `json:"parts"`
}

// Text concatenates the text parts of the artifact.
func (a Artifact) Text() string {
	return joinText(a.Parts)
}

func joinText(parts []Part) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// AgentCard is the self-describing manifest served at
// /.well-known/agent-card.json.
type AgentCard struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Version      string            `json:"version"`
	URL          string            `json:"url,omitempty"`
	Capabilities AgentCapabilities `json:"capabilities"`
	Skills       []AgentSkill      `json:"skills"`
}

// AgentCapabilities declares which optional features the agent supports.
type AgentCapabilities struct {
	Streaming bool `json:"streaming"`
}

// AgentSkill declares a distinct capability of an agent.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// TaskStatusUpdateEvent is streamed when a task's status changes.
type TaskStatusUpdateEvent struct {
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// TaskArtifactUpdateEvent is streamed when an artifact chunk is produced.
type TaskArtifactUpdateEvent struct {
	TaskID    string   `json:"taskId"`
	ContextID string   `json:"contextId"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append"`
	LastChunk bool     `json:"lastChunk"`
}

// SendMessageRequest initiates a task.
type SendMessageRequest struct {
	Message Message `json:"message"`
}

// NewTaskID returns a random task identifier.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// NewMessageID returns a random message identifier.
func NewMessageID() string {
	return "msg-" + uuid.NewString()
}
