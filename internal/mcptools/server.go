package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/loanflow/internal/service"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with the intake tools registered.
func NewServer(svc *service.Service) *mcp.Server {
	tools := NewIntakeTools(svc)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "loanflow",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_application",
		Description: "Start a new mortgage application. Returns a session id and the assistant's first question.",
	}, tools.StartApplication)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send the applicant's answer to the current question. Personal details are sent as JSON: {\"name\", \"email\", \"idLast4\"}.",
	}, tools.SendMessage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "process_application",
		Description: "Run the credit, income and risk assessment for a completed application. Each session can be processed once.",
	}, tools.ProcessApplication)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_application",
		Description: "Return the data collected so far for a session and its decision, if any.",
	}, tools.GetApplication)

	return server
}

// RunStdio serves the tools on stdin/stdout until the client disconnects or
// ctx is canceled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the tools over the streamable HTTP transport on addr.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return server },
		nil,
	)
	httpServer := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
