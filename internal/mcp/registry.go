package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/metrics"
)

// ToolHandler runs one decoded tool call
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (any, error)

// TypedHandler is the signature tool implementations are written against
type TypedHandler[P any] func(ctx context.Context, req *mcp_sdk.CallToolRequest, params P) (*mcp_sdk.CallToolResult, any, error)

// ToolDef is what a client sees of a tool
type ToolDef struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
	// Control marks tools that make the machine move or stop moving
	Control bool `json:"-"`
}

type tool struct {
	def  ToolDef
	call ToolHandler
}

// Registry holds the tools in the order they were registered. Re-registering
// a name replaces the tool in place.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*tool
	names []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*tool)}
}

// Register adds a tool. The input schema is derived from P unless def
// carries one.
func Register[P any](r *Registry, def ToolDef, handler TypedHandler[P]) {
	if def.InputSchema == nil {
		def.InputSchema = GenerateSchema[P]()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; !ok {
		r.names = append(r.names, def.Name)
	}
	r.tools[def.Name] = &tool{def: def, call: decoding(handler)}
}

// GetTool returns a tool definition by name
func (r *Registry) GetTool(name string) (*ToolDef, bool) {
	t, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return &t.def, true
}

// GetAllTools returns every tool definition in registration order
func (r *Registry) GetAllTools() []*ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*ToolDef, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, &r.tools[name].def)
	}
	return defs
}

func (r *Registry) lookup(name string) (*tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// CallTool runs a tool by name with JSON arguments. Control tools are
// logged with their outcome and latency.
func (r *Registry) CallTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	start := time.Now()
	result, err := t.call(ctx, args)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordToolCall(name, status)
	if t.def.Control {
		logger.InfoContext(ctx, "control tool", "tool", name, "status", status, "duration", time.Since(start))
	}
	return result, err
}

// RegisterWithMCPServer exposes every tool on an MCP SDK server. Calls go
// through CallTool so metrics and logging apply to both paths.
func (r *Registry) RegisterWithMCPServer(server *mcp_sdk.Server) {
	for _, def := range r.GetAllTools() {
		server.AddTool(&mcp_sdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}, r.sdkHandler(def.Name))
	}
}

func (r *Registry) sdkHandler(name string) mcp_sdk.ToolHandler {
	return func(ctx context.Context, req *mcp_sdk.CallToolRequest) (*mcp_sdk.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		result, err := r.CallTool(withSDKRequest(ctx, req), name, args)
		return toCallToolResult(result, err), nil
	}
}

// toCallToolResult renders a handler outcome for the client. Errors become
// error results rather than protocol errors so the UI can show them.
func toCallToolResult(result any, err error) *mcp_sdk.CallToolResult {
	if err != nil {
		return NewErrorResult(err.Error())
	}
	if ctr, ok := result.(*mcp_sdk.CallToolResult); ok {
		return ctr
	}
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResult(err.Error())
	}
	return NewTextResult(string(data))
}

type sdkRequestKey struct{}

func withSDKRequest(ctx context.Context, req *mcp_sdk.CallToolRequest) context.Context {
	return context.WithValue(ctx, sdkRequestKey{}, req)
}

func sdkRequest(ctx context.Context, args json.RawMessage) *mcp_sdk.CallToolRequest {
	if req, ok := ctx.Value(sdkRequestKey{}).(*mcp_sdk.CallToolRequest); ok {
		return req
	}
	return &mcp_sdk.CallToolRequest{Params: &mcp_sdk.CallToolParamsRaw{Arguments: args}}
}

// decoding turns a typed handler into a ToolHandler. Absent or null
// arguments leave P at its zero value.
func decoding[P any](handler TypedHandler[P]) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var params P
		if len(args) > 0 && string(args) != "null" {
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("invalid parameters: %w", err)
			}
		}

		result, data, err := handler(ctx, sdkRequest(ctx, args), params)
		switch {
		case err != nil:
			return nil, err
		case result != nil && result.IsError:
			return nil, resultError(result)
		case data != nil:
			return data, nil
		default:
			return result, nil
		}
	}
}

func resultError(result *mcp_sdk.CallToolResult) error {
	if len(result.Content) > 0 {
		if text, ok := result.Content[0].(*mcp_sdk.TextContent); ok {
			return errors.New(text.Text)
		}
	}
	return errors.New("tool execution failed")
}

// GenerateSchema derives an object schema from P. Fields tagged omitempty
// are optional; the jsonschema tag becomes the description.
func GenerateSchema[P any]() *jsonschema.Schema {
	schema, err := jsonschema.For[P](nil)
	if err != nil || schema == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema
}

// NewTextResult creates a CallToolResult with text content
func NewTextResult(text string) *mcp_sdk.CallToolResult {
	return &mcp_sdk.CallToolResult{
		Content: []mcp_sdk.Content{&mcp_sdk.TextContent{Text: text}},
	}
}

// NewErrorResult creates a CallToolResult indicating an error
func NewErrorResult(msg string) *mcp_sdk.CallToolResult {
	return &mcp_sdk.CallToolResult{
		IsError: true,
		Content: []mcp_sdk.Content{&mcp_sdk.TextContent{Text: msg}},
	}
}
