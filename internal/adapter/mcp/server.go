// Package mcp exposes the orchestrator's read surface as Model Context
// Protocol tools so AI assistants can inspect agents and workflow runs.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/port/eventstore"
)

// WorkflowReader is the slice of the event store the MCP tools need.
type WorkflowReader interface {
	ListByWorkflow(ctx context.Context, workflowID, cursor string, limit int) (*eventstore.Page, error)
	Summarize(ctx context.Context, workflowID string) (*eventstore.Summary, error)
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string // empty disables auth
}

// ServerDeps holds the dependencies the tools read from. Nil fields make the
// corresponding tools return a configuration error instead of panicking.
type ServerDeps struct {
	Registry  *agent.Registry
	Workflows WorkflowReader
}

// Server wraps the MCP server and its HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer creates an MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying MCP server, used by tests and by callers
// embedding the server in another transport.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves the MCP streamable-HTTP transport on the configured address.
// It returns immediately; serve errors are logged.
func (s *Server) Start() error {
	handler := http.Handler(mcpserver.NewStreamableHTTPServer(s.mcpServer))
	handler = AuthMiddleware(s.cfg.APIKey, handler)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the MCP HTTP transport.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
