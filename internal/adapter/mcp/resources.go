package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"agentify://agents",
			"Agent Registry",
			mcplib.WithResourceDescription("Deployed agents the orchestrator routes to"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentsResource,
	)
}

func (s *Server) handleAgentsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Registry == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"agent registry not configured"}`,
			},
		}, nil
	}
	data, err := json.Marshal(s.deps.Registry.Agents)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
