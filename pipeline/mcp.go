package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/squint-dev/squint/kit"
)

// RegisterMCP registers the pipeline tools on an MCP server.
func (o *Orchestrator) RegisterMCP(srv *mcp.Server) {
	o.registerRunTool(srv)
	o.registerValidateTool(srv)
	o.registerHistoryTool(srv)
}

// toolMiddleware stamps a fresh request id on every invocation and logs
// the tool name with the transport it arrived on.
func (o *Orchestrator) toolMiddleware(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			ctx = kit.WithRequestID(ctx, o.ids())
			o.logger.Info("pipeline: tool invoked",
				"tool", name,
				"transport", kit.GetTransport(ctx),
				"request_id", kit.GetRequestID(ctx))
			return next(ctx, req)
		}
	}
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- run ---

type runRequest struct {
	DesignRef string `json:"design_ref"`
	PageURL   string `json:"page_url"`
	Dispatch  bool   `json:"dispatch,omitempty"`
}

func (o *Orchestrator) registerRunTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "squint_run",
		Description: "Run the full design QA pipeline: fetch reference renders, capture the live page, compare, validate, and optionally file tickets.",
		InputSchema: inputSchema(map[string]any{
			"design_ref": map[string]any{"type": "string", "description": "Design file id or URL"},
			"page_url":   map[string]any{"type": "string", "description": "Live page to inspect"},
			"dispatch":   map[string]any{"type": "boolean", "description": "File tickets for detected issues"},
		}, []string{"design_ref", "page_url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runRequest)
		res, err := o.Run(ctx, r.DesignRef, r.PageURL, r.Dispatch)
		if err != nil {
			// An aborted run still carries the reason; surface it as
			// tool output rather than a protocol error.
			if res != nil && res.Aborted {
				return res, nil
			}
			return nil, err
		}
		return res, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r runRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.DesignRef == "" || r.PageURL == "" {
			return nil, fmt.Errorf("design_ref and page_url are required")
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithTransport(ctx, "mcp") },
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(o.toolMiddleware(tool.Name))(endpoint), decode)
}

// --- validate ---

type validateRequest struct {
	PageURL string `json:"page_url"`
}

func (o *Orchestrator) registerValidateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "squint_validate",
		Description: "Run only the heuristic DOM validator against a live page. No reference images, no tickets.",
		InputSchema: inputSchema(map[string]any{
			"page_url": map[string]any{"type": "string", "description": "Live page to inspect"},
		}, []string{"page_url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*validateRequest)
		issues, err := o.ValidatePage(ctx, r.PageURL)
		if err != nil {
			return nil, err
		}
		return map[string]any{"issues": issues, "count": len(issues)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r validateRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.PageURL == "" {
			return nil, fmt.Errorf("page_url is required")
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithTransport(ctx, "mcp") },
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(o.toolMiddleware(tool.Name))(endpoint), decode)
}

// --- history ---

type historyRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (o *Orchestrator) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "squint_history",
		Description: "List recent pipeline runs with their scores and issue counts.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs to return (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyRequest)
		if o.history == nil {
			return nil, fmt.Errorf("run history not configured")
		}
		runs, err := o.history.Recent(ctx, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs, "count": len(runs)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r := historyRequest{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(o.toolMiddleware(tool.Name))(endpoint), decode)
}
