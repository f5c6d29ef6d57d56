package a2a

import "encoding/json"

// JSONRPCVersion is sent in every envelope.
const JSONRPCVersion = "2.0"

// Methods served by stage agents.
const (
	MethodSendMessage   = "message/send"
	MethodStreamMessage = "message/stream"
)

// Error codes returned by stage agents. The first four are the JSON-RPC
// 2.0 reserved codes; ErrCodeUnsupportedOperation tells a caller to fall
// back from message/stream to message/send.
const (
	ErrCodeParse                = -32700
	ErrCodeMethodNotFound       = -32601
	ErrCodeInvalidParams        = -32602
	ErrCodeInternal             = -32603
	ErrCodeUnsupportedOperation = -32004
)

// JSONRPCRequest carries one stage call.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse carries the result of a blocking call, or the error of a
// streaming call that was refused before the stream opened.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error member of a response. The client surfaces it
// as *RPCError.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
