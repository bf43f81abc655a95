package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/sessions"
)

// ErrToolNotFound marks a tools/call against an unregistered name. The
// engine surfaces it as an invalid-params protocol error.
var ErrToolNotFound = errors.New("tool not found")

// ToolHandler handles one tool invocation.
type ToolHandler func(ctx context.Context, sess *sessions.Metadata, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest carries the decoded arguments and request metadata for a typed
// tool invocation.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title       string
	description string
}

// WithToolDescription sets the description shown in tool listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolTitle sets the optional human-friendly title.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// NewTool builds a StaticTool from a typed argument struct A. The input
// schema is reflected from A, and arguments are decoded strictly: unknown
// fields produce an error result rather than a transport failure.
func NewTool[A any](name string, fn func(ctx context.Context, sess *sessions.Metadata, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](),
	}

	handler := func(ctx context.Context, sess *sessions.Metadata, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args A
		if len(req.Arguments) > 0 {
			dec := json.NewDecoder(bytes.NewReader(req.Arguments))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&args); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: args}
		if err := fn(ctx, sess, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects A into the wire-shape tool input schema using
// invopop/jsonschema with defs inlined and the struct expanded at the root.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))

	out := mcp.ToolInputSchema{Type: "object"}
	if s == nil {
		return out
	}
	// Round-trip through JSON so the wire shape stays decoupled from the
	// reflector's internal schema type.
	raw, err := json.Marshal(s)
	if err != nil {
		return out
	}
	var flat struct {
		Type                 string         `json:"type"`
		Properties           map[string]any `json:"properties"`
		Required             []string       `json:"required"`
		AdditionalProperties *bool          `json:"additionalProperties"`
	}
	if err := json.Unmarshal(raw, &flat); err != nil || flat.Type != "object" {
		return out
	}
	out.Properties = flat.Properties
	out.Required = flat.Required
	out.AdditionalProperties = flat.AdditionalProperties
	return out
}

// ToolsContainer owns a threadsafe set of tool descriptors and handlers and
// implements ToolsCapability with internal pagination.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler
	pageSize int
}

var _ ToolsCapability = (*ToolsContainer)(nil)

// NewToolsContainer builds a container from the given tool definitions.
// Later definitions win on duplicate names.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{pageSize: 50}
	tc.Replace(defs...)
	return tc
}

// SetPageSize adjusts ListTools pagination. Non-positive values are ignored.
func (tc *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	tc.mu.Lock()
	tc.pageSize = n
	tc.mu.Unlock()
}

// Replace atomically swaps the entire tool set.
func (tc *ToolsContainer) Replace(defs ...StaticTool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tools = make([]mcp.Tool, 0, len(defs))
	tc.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		tc.tools = append(tc.tools, d.Descriptor)
		if d.Handler != nil {
			tc.handlers[d.Descriptor.Name] = d.Handler
		}
	}
}

func (tc *ToolsContainer) ListTools(ctx context.Context, sess *sessions.Metadata, cursor *string) (Page[mcp.Tool], error) {
	tc.mu.RLock()
	all := make([]mcp.Tool, len(tc.tools))
	copy(all, tc.tools)
	pageSize := tc.pageSize
	tc.mu.RUnlock()
	return pageSlice(all, pageSize, cursor), nil
}

func (tc *ToolsContainer) CallTool(ctx context.Context, sess *sessions.Metadata, req *mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: missing tool name", ErrToolNotFound)
	}
	tc.mu.RLock()
	h := tc.handlers[req.Name]
	tc.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	// A panicking handler must not take the transport down with it.
	defer func() {
		if r := recover(); r != nil {
			res = Errorf("tool %s failed: %v", req.Name, r)
			err = nil
		}
	}()
	return h(ctx, sess, req)
}

// TextResult builds a single-text-block success result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf builds a tool error result with a single text block.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}
