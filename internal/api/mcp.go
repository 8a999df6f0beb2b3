package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/courserag/internal/llm"
	"github.com/kalambet/courserag/internal/rag"
	"github.com/kalambet/courserag/internal/tools"
)

// MCPAnswerer runs a full question through the model.
type MCPAnswerer interface {
	Query(ctx context.Context, query, sessionID string) (rag.Answer, error)
}

// MCPCatalog summarizes the indexed courses.
type MCPCatalog interface {
	CourseAnalytics(ctx context.Context) (rag.Analytics, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tools    *tools.Registry
	Catalog  MCPCatalog  // optional; if nil, the catalog resource is not published
	Answerer MCPAnswerer // optional; if nil, ask_course_question is not published
}

// NewMCPServer creates an MCP server publishing every registered tool with
// its input schema, plus the catalog resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"courserag",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("courserag: search course materials and course outlines."),
		server.WithRecovery(),
	)

	for _, t := range deps.Tools.Tools() {
		def := t.Definition()
		s.AddTool(mcpTool(def), mcpToolCall(deps.Tools, def.Name))
	}

	if deps.Answerer != nil {
		s.AddTool(
			mcp.NewTool("ask_course_question",
				mcp.WithDescription("Answer a question about the course materials using search and outline tools."),
				mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			),
			mcpAsk(deps),
		)
	}

	if deps.Catalog != nil {
		s.AddResource(
			mcp.NewResource(
				"courses://catalog",
				"Course Catalog",
				mcp.WithResourceDescription("Number of indexed courses and their titles as JSON"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceCatalog(deps),
		)
	}

	return s
}

func mcpTool(def llm.Tool) mcp.Tool {
	schema, err := json.Marshal(def.InputSchema)
	if err != nil {
		schema = []byte(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(def.Name, def.Description, schema)
}

// mcpToolCall runs the named tool on a fresh dispatcher so concurrent
// calls never share citation state.
func mcpToolCall(registry *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		d := registry.NewDispatcher()
		text, err := d.Invoke(ctx, name, input)
		if err != nil {
			return mcpError(fmt.Sprintf("Error executing %s: %v", name, err)), nil
		}
		if text == "" {
			text = fmt.Sprintf("Tool %s returned no results", name)
		}

		result := mcpText(text)
		if cites := d.Citations(); len(cites) > 0 {
			b, err := json.Marshal(cites)
			if err == nil {
				result.Content = append(result.Content, mcp.TextContent{Type: "text", Text: string(b)})
			}
		}
		return result, nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		ans, err := deps.Answerer.Query(ctx, question, "")
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		result := mcpText(ans.Text)
		if len(ans.Citations) > 0 {
			b, err := json.Marshal(ans.Citations)
			if err == nil {
				result.Content = append(result.Content, mcp.TextContent{Type: "text", Text: string(b)})
			}
		}
		return result, nil
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Catalog.CourseAnalytics(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get course analytics: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal course analytics: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
