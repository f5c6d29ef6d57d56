package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// ErrStreamingUnsupported is returned by StreamMessage when the agent
// answers message/stream with a plain JSON-RPC error instead of a stream.
var ErrStreamingUnsupported = errors.New("a2a: streaming not supported")

// HTTPClient implements the Client interface using HTTP/JSON-RPC.
type HTTPClient struct {
	http      *http.Client
	stream    *http.Client
	requestID atomic.Int64
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the timeout for non-streaming calls. Streams are bounded
// by their context only.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client for both call kinds.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = hc
		c.stream = hc
	}
}

// NewHTTPClient creates a new A2A HTTP client.
func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		stream: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage sends a message to an agent via the message/send JSON-RPC method.
func (c *HTTPClient) SendMessage(ctx context.Context, endpoint string, req SendMessageRequest) (*Task, error) {
	var task Task
	if err := c.call(ctx, endpoint, MethodSendMessage, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StreamMessage sends a message via message/stream and returns the SSE
// events the agent writes back.
func (c *HTTPClient) StreamMessage(ctx context.Context, endpoint string, req SendMessageRequest) (<-chan StreamEvent, error) {
	body, err := c.envelope(MethodStreamMessage, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("a2a: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("a2a: %s: %w", MethodStreamMessage, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("a2a: %s: HTTP %d: %s", MethodStreamMessage, resp.StatusCode, string(respBody))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		defer resp.Body.Close()
		var rpcResp JSONRPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return nil, fmt.Errorf("a2a: decode response: %w", err)
		}
		if rpcResp.Error != nil {
			rpcErr := newRPCError(MethodStreamMessage, rpcResp.Error)
			if rpcResp.Error.Code == ErrCodeUnsupportedOperation {
				return nil, fmt.Errorf("%w: %w", ErrStreamingUnsupported, rpcErr)
			}
			return nil, rpcErr
		}
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrStreamingUnsupported, mediaType)
	}

	return ReadEvents(ctx, resp.Body), nil
}

// DiscoverAgent fetches the Agent Card from the well-known URI.
func (c *HTTPClient) DiscoverAgent(ctx context.Context, baseURL string) (*AgentCard, error) {
	url := strings.TrimRight(baseURL, "/") + "/.well-known/agent-card.json"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("a2a: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("a2a: discover agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("a2a: discover agent: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("a2a: decode agent card: %w", err)
	}
	return &card, nil
}

// envelope wraps params in a JSON-RPC request with a fresh ID.
func (c *HTTPClient) envelope(method string, params any) ([]byte, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("a2a: marshal params: %w", err)
	}

	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("a2a: marshal request: %w", err)
	}
	return body, nil
}

// call performs a JSON-RPC 2.0 call over HTTP POST.
func (c *HTTPClient) call(ctx context.Context, endpoint, method string, params any, result any) error {
	body, err := c.envelope(method, params)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("a2a: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("a2a: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("a2a: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("a2a: %s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("a2a: decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return newRPCError(method, rpcResp.Error)
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("a2a: decode result: %w", err)
		}
	}

	return nil
}

// RPCError represents a JSON-RPC error returned by a remote agent.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func newRPCError(method string, e *JSONRPCError) *RPCError {
	return &RPCError{
		Method:  method,
		Code:    e.Code,
		Message: e.Message,
		Data:    e.Data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("a2a: %s: rpc error %d: %s (data: %s)", e.Method, e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("a2a: %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}
