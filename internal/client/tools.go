package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var defaultToolSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Tool is a function advertised to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a model's request to run one tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is fed back to the model for the call with the same CallID.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolStep is a finished model turn that asked for tools, with their results.
type ToolStep struct {
	Text    string
	Calls   []ToolCall
	Results []ToolResult
}

// Toolset runs the tools it advertises. Call never fails outright: errors
// come back as results with IsError set so the model can react to them.
type Toolset interface {
	Tools() []Tool
	Call(ctx context.Context, call ToolCall) ToolResult
	Close() error
}

// MCPToolset exposes the tools of one MCP client session.
type MCPToolset struct {
	session *mcp.ClientSession
	tools   []Tool
}

// DialMCP connects to a streamable HTTP MCP endpoint and lists its tools.
// headers are sent with every request.
func DialMCP(ctx context.Context, endpoint string, headers map[string]string) (*MCPToolset, error) {
	transport := &mcp.StreamableClientTransport{
		Endpoint:             endpoint,
		HTTPClient:           &http.Client{Transport: &headerTransport{headers: headers, base: http.DefaultTransport}},
		DisableStandaloneSSE: true,
	}
	c := mcp.NewClient(&mcp.Implementation{Name: "open-gamma", Version: "v1"}, nil)
	session, err := c.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mcp server: %w", err)
	}

	ts, err := NewMCPToolset(ctx, session)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return ts, nil
}

// NewMCPToolset wraps an established session. It owns the session from here on.
func NewMCPToolset(ctx context.Context, session *mcp.ClientSession) (*MCPToolset, error) {
	ts := &MCPToolset{session: session}
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("failed to list mcp tools: %w", err)
		}
		schema := defaultToolSchema
		if tool.InputSchema != nil {
			raw, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("failed to encode schema of tool %s: %w", tool.Name, err)
			}
			schema = raw
		}
		ts.tools = append(ts.tools, Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return ts, nil
}

func (t *MCPToolset) Tools() []Tool {
	return t.tools
}

func (t *MCPToolset) Call(ctx context.Context, call ToolCall) ToolResult {
	result := ToolResult{CallID: call.ID, Name: call.Name}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			result.IsError = true
			result.Content = "invalid tool arguments: " + err.Error()
			return result
		}
	}

	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: call.Name, Arguments: args})
	if err != nil {
		result.IsError = true
		result.Content = err.Error()
		return result
	}
	result.IsError = res.IsError
	result.Content = toolResultText(res)
	return result
}

func (t *MCPToolset) Close() error {
	if err := t.session.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// toolResultText flattens a tool result into the text handed back to the model.
func toolResultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			return string(raw)
		}
	}
	if raw, err := json.Marshal(res.Content); err == nil && len(res.Content) > 0 {
		return string(raw)
	}
	return ""
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
