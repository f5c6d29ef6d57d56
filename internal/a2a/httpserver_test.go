package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Mock Handler
// ---------------------------------------------------------------------------

type mockHandler struct {
	sendMessage   func(ctx context.Context, req SendMessageRequest) (*Task, error)
	streamMessage func(ctx context.Context, req SendMessageRequest, emit EmitFunc) error
}

func (m *mockHandler) HandleSendMessage(ctx context.Context, req SendMessageRequest) (*Task, error) {
	if m.sendMessage != nil {
		return m.sendMessage(ctx, req)
	}
	return nil, fmt.Errorf("sendMessage not implemented")
}

func (m *mockHandler) HandleStreamMessage(ctx context.Context, req SendMessageRequest, emit EmitFunc) error {
	if m.streamMessage != nil {
		return m.streamMessage(ctx, req, emit)
	}
	return fmt.Errorf("streamMessage not implemented")
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func startTestServer(t *testing.T, handler Handler, card AgentCard) (string, *Server) {
	t.Helper()

	srv := NewServer(card, handler, nil)
	require.NoError(t, srv.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	return "http://" + srv.Addr().String(), srv
}

func testCard() AgentCard {
	return AgentCard{
		Name:         "test-agent",
		Description:  "A test agent",
		Version:      "0.1.0",
		Capabilities: AgentCapabilities{Streaming: true},
		Skills: []AgentSkill{
			{ID: "echo", Name: "echo", Description: "Echoes messages back", Tags: []string{"test"}},
		},
	}
}

// postJSONRPC sends a JSON-RPC request and decodes the response.
func postJSONRPC(t *testing.T, baseURL string, method string, id any, params any) JSONRPCResponse {
	t.Helper()

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		rawParams = b
	}

	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  rawParams,
	})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return rpcResp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestServerAgentCard(t *testing.T) {
	card := testCard()
	base, _ := startTestServer(t, &mockHandler{}, card)

	got, err := NewHTTPClient().DiscoverAgent(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, card, *got)
}

func TestServerSendMessage(t *testing.T) {
	handler := &mockHandler{
		sendMessage: func(_ context.Context, req SendMessageRequest) (*Task, error) {
			return &Task{
				ID:     "task-1",
				Status: TaskStatus{State: TaskStateCompleted},
				Artifacts: []Artifact{{
					ArtifactID: "a1",
					Parts:      []Part{TextPart("echo: " + req.Message.Text())},
				}},
			}, nil
		},
	}
	base, _ := startTestServer(t, handler, testCard())

	task, err := NewHTTPClient().SendMessage(context.Background(), base, userMessage("hi"))
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "echo: hi", task.Artifacts[0].Text())
}

func TestServerStreamMessage(t *testing.T) {
	handler := &mockHandler{
		streamMessage: func(_ context.Context, req SendMessageRequest, emit EmitFunc) error {
			for _, word := range strings.Fields(req.Message.Text()) {
				if err := emit(StreamEvent{ArtifactUpdate: &TaskArtifactUpdateEvent{
					Artifact: Artifact{Parts: []Part{TextPart(word)}},
					Append:   true,
				}}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	base, _ := startTestServer(t, handler, testCard())

	ch, err := NewHTTPClient().StreamMessage(context.Background(), base, userMessage("one two three"))
	require.NoError(t, err)

	var words []string
	for ev := range ch {
		require.NoError(t, ev.Err)
		words = append(words, ev.ArtifactUpdate.Artifact.Text())
	}
	assert.Equal(t, []string{"one", "two", "three"}, words)
}

func TestServerStreamMessage_HandlerError(t *testing.T) {
	handler := &mockHandler{
		streamMessage: func(_ context.Context, _ SendMessageRequest, emit EmitFunc) error {
			_ = emit(StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{Status: TaskStatus{State: TaskStateWorking}}})
			return fmt.Errorf("bureau unreachable")
		},
	}
	base, _ := startTestServer(t, handler, testCard())

	ch, err := NewHTTPClient().StreamMessage(context.Background(), base, userMessage("go"))
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.NoError(t, events[0].Err)
	require.Error(t, events[1].Err)
	assert.Contains(t, events[1].Err.Error(), "bureau unreachable")
}

func TestServerStreamMessage_NotAdvertised(t *testing.T) {
	card := testCard()
	card.Capabilities.Streaming = false
	base, _ := startTestServer(t, &mockHandler{}, card)

	_, err := NewHTTPClient().StreamMessage(context.Background(), base, userMessage("go"))
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestServerParseError(t *testing.T) {
	base, _ := startTestServer(t, &mockHandler{}, testCard())

	resp, err := http.Post(base+"/", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeParse, rpcResp.Error.Code)
}

func TestServerMethodNotFound(t *testing.T) {
	base, _ := startTestServer(t, &mockHandler{}, testCard())

	rpcResp := postJSONRPC(t, base, "tasks/get", 7, map[string]string{"id": "x"})
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, rpcResp.Error.Code)
	assert.EqualValues(t, 7, rpcResp.ID)
}

func TestServerInvalidParams(t *testing.T) {
	base, _ := startTestServer(t, &mockHandler{}, testCard())

	rpcResp := postJSONRPC(t, base, MethodSendMessage, 1, "not an object")
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeInvalidParams, rpcResp.Error.Code)
}

func TestServerHandlerErrorReturnsInternalError(t *testing.T) {
	handler := &mockHandler{
		sendMessage: func(context.Context, SendMessageRequest) (*Task, error) {
			return nil, fmt.Errorf("something went wrong")
		},
	}
	base, _ := startTestServer(t, handler, testCard())

	rpcResp := postJSONRPC(t, base, MethodSendMessage, 1, userMessage("x"))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeInternal, rpcResp.Error.Code)
	assert.Contains(t, rpcResp.Error.Message, "something went wrong")
}

func TestServerGracefulShutdown(t *testing.T) {
	srv := NewServer(testCard(), &mockHandler{}, nil)
	require.NoError(t, srv.Start(context.Background(), "127.0.0.1:0"))
	url := "http://" + srv.Addr().String() + "/.well-known/agent-card.json"

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	_, err = http.Get(url)
	assert.Error(t, err, "expected connection error after shutdown")
}

func TestServerStart_BindError(t *testing.T) {
	first := NewServer(testCard(), &mockHandler{}, nil)
	require.NoError(t, first.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = first.Stop(context.Background()) })

	second := NewServer(testCard(), &mockHandler{}, nil)
	assert.Error(t, second.Start(context.Background(), first.Addr().String()))
	assert.NoError(t, second.Stop(context.Background()))
}
