package a2a

import "context"

// Client sends stage requests to remote agents.
type Client interface {
	// SendMessage sends a message and waits for the finished task.
	SendMessage(ctx context.Context, endpoint string, req SendMessageRequest) (*Task, error)

	// StreamMessage sends a message and returns the agent's event stream.
	// The channel is closed when the agent finishes or ctx ends.
	StreamMessage(ctx context.Context, endpoint string, req SendMessageRequest) (<-chan StreamEvent, error)

	// DiscoverAgent fetches the Agent Card from the well-known URI.
	DiscoverAgent(ctx context.Context, baseURL string) (*AgentCard, error)
}

// StreamEvent is a typed event received from a message/stream call.
type StreamEvent struct {
	// Exactly one of these is set.
	Task           *Task                    `json:"task,omitempty"`
	Message        *Message                 `json:"message,omitempty"`
	StatusUpdate   *TaskStatusUpdateEvent   `json:"statusUpdate,omitempty"`
	ArtifactUpdate *TaskArtifactUpdateEvent `json:"artifactUpdate,omitempty"`

	// Error carries a server-side failure across the wire.
	Error *JSONRPCError `json:"error,omitempty"`

	// Err is set if the stream encountered an error.
	Err error `json:"-"`
}
