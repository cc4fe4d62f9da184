package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const maxEventPageSize = 1000

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listAgentsTool(),
		s.getWorkflowEventsTool(),
		s.getWorkflowStatusTool(),
	)
}

func (s *Server) listAgentsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_agents",
		mcplib.WithDescription("List the deployed agents the orchestrator can route to"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListAgents,
	}
}

func (s *Server) getWorkflowEventsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_workflow_events",
		mcplib.WithDescription("Get the event stream of a workflow run, oldest first"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The workflow ID whose events to fetch"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of events to return (default 100)"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetWorkflowEvents,
	}
}

func (s *Server) getWorkflowStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_workflow_status",
		mcplib.WithDescription("Summarize a workflow run: status, agents invoked, event counts"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The workflow ID to summarize"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetWorkflowStatus,
	}
}

func (s *Server) handleListAgents(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Registry == nil {
		return mcplib.NewToolResultError("agent registry not configured"), nil
	}
	data, err := json.Marshal(s.deps.Registry.Agents)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal agents", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetWorkflowEvents(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workflows == nil {
		return mcplib.NewToolResultError("workflow reader not configured"), nil
	}
	args := req.GetArguments()
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	limit := 100
	if raw, ok := args["limit"].(float64); ok && raw >= 1 {
		limit = int(raw)
		if limit > maxEventPageSize {
			limit = maxEventPageSize
		}
	}
	page, err := s.deps.Workflows.ListByWorkflow(ctx, workflowID, "", limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to list events for workflow %s", workflowID), err,
		), nil
	}
	data, err := json.Marshal(page)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal events", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetWorkflowStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workflows == nil {
		return mcplib.NewToolResultError("workflow reader not configured"), nil
	}
	args := req.GetArguments()
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	summary, err := s.deps.Workflows.Summarize(ctx, workflowID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to summarize workflow %s", workflowID), err,
		), nil
	}
	if summary == nil {
		return mcplib.NewToolResultError(fmt.Sprintf("workflow %s not found", workflowID)), nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal summary", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// toolResultJSON wraps a JSON payload as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
