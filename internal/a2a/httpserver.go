package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// handleAgentCard serves the agent card as JSON at the well-known endpoint.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(s.card); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleJSONRPC decodes a JSON-RPC 2.0 request and dispatches it.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, ErrCodeParse, "Parse error: "+err.Error())
		return
	}

	ctx := r.Context()

	switch req.Method {
	case MethodSendMessage:
		s.dispatchSendMessage(ctx, w, &req)
	case MethodStreamMessage:
		s.dispatchStreamMessage(ctx, w, &req)
	default:
		writeJSONRPCError(w, req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

// dispatchSendMessage unmarshals params and calls HandleSendMessage.
func (s *Server) dispatchSendMessage(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest) {
	var params SendMessageRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
		return
	}

	result, err := s.handler.HandleSendMessage(ctx, params)
	if err != nil {
		writeJSONRPCError(w, req.ID, ErrCodeInternal, err.Error())
		return
	}

	writeJSONRPCResult(w, req.ID, result)
}

// dispatchStreamMessage answers with an SSE stream of StreamEvents. A
// handler failure after the stream opened is sent as a final error event.
func (s *Server) dispatchStreamMessage(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest) {
	var params SendMessageRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
		return
	}

	sw := NewSSEWriter(w)
	if !s.card.Capabilities.Streaming || !sw.CanFlush() {
		writeJSONRPCError(w, req.ID, ErrCodeUnsupportedOperation, "Streaming is not supported")
		return
	}
	sw.Init()

	if err := s.handler.HandleStreamMessage(ctx, params, sw.WriteEvent); err != nil {
		s.log.Warn("stream handler failed", "agent", s.card.Name, "error", err)
		if ctx.Err() != nil {
			return
		}
		_ = sw.WriteEvent(StreamEvent{Error: &JSONRPCError{Code: ErrCodeInternal, Message: err.Error()}})
	}
}

// writeJSONRPCResult writes a successful JSON-RPC response.
func writeJSONRPCResult(w http.ResponseWriter, id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		writeJSONRPCError(w, id, ErrCodeInternal, "Failed to marshal result: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  data,
	})
}

// writeJSONRPCError writes a JSON-RPC error response.
func writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	})
}
