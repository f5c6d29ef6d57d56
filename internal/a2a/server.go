package a2a

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

// EmitFunc delivers one streamed event to the caller. It returns an error
// when the client has gone away.
type EmitFunc func(StreamEvent) error

// Handler processes incoming requests for a stage agent.
type Handler interface {
	// HandleSendMessage processes a message and returns the finished task.
	HandleSendMessage(ctx context.Context, req SendMessageRequest) (*Task, error)

	// HandleStreamMessage processes a message, emitting events as they are
	// produced. It returns once the task is finished.
	HandleStreamMessage(ctx context.Context, req SendMessageRequest, emit EmitFunc) error
}

// Server is the HTTP server that exposes an agent.
type Server struct {
	card    AgentCard
	handler Handler
	log     *slog.Logger
	http    *http.Server
	addr    net.Addr
}

// NewServer creates a server for the given agent.
func NewServer(card AgentCard, handler Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		card:    card,
		handler: handler,
		log:     log,
	}
}

// Card returns the agent card the server publishes.
func (s *Server) Card() AgentCard {
	return s.card
}

// Handler returns the server's routes. Useful with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/agent-card.json", s.handleAgentCard)
	mux.HandleFunc("POST /", s.handleJSONRPC)
	return mux
}

// Start binds addr and begins serving in a background goroutine. Bind
// errors are returned synchronously.
func (s *Server) Start(_ context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.http = &http.Server{Handler: s.Handler()}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("agent server stopped", "agent", s.card.Name, "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
