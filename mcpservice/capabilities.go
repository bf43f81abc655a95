// Package mcpservice defines the capability surface the transport engine
// dispatches against: server identity, tools, resources, and logging.
// Capability discovery returns (cap, ok, err); ok=false means the capability
// is absent and will not be advertised. All implementations must be safe for
// concurrent use and honor context cancellation.
package mcpservice

import (
	"context"
	"strconv"

	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/sessions"
)

// ServerCapabilities is what the engine interrogates to serve a session.
// The session argument is nil while the initialize handshake is still in
// flight.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation identity surfaced in the
	// initialize result.
	GetServerInfo(ctx context.Context, sess *sessions.Metadata) (mcp.ImplementationInfo, error)

	// GetInstructions returns optional operator guidance for the client.
	// ok=false omits the field.
	GetInstructions(ctx context.Context, sess *sessions.Metadata) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools surface, or ok=false when tools
	// are not served.
	GetToolsCapability(ctx context.Context, sess *sessions.Metadata) (ToolsCapability, bool, error)

	// GetResourcesCapability returns the resources surface, or ok=false when
	// resources are not served.
	GetResourcesCapability(ctx context.Context, sess *sessions.Metadata) (ResourcesCapability, bool, error)

	// GetLoggingCapability returns logging/setLevel support, or ok=false.
	GetLoggingCapability(ctx context.Context, sess *sessions.Metadata) (LoggingCapability, bool, error)
}

// ToolsCapability lists and invokes tools.
type ToolsCapability interface {
	// ListTools returns one page of the tool catalog. A nil cursor requests
	// the first page.
	ListTools(ctx context.Context, sess *sessions.Metadata, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool. Unknown names return an error wrapping
	// ErrToolNotFound; tool-level failures are reported inside the result
	// with IsError set, not as Go errors.
	CallTool(ctx context.Context, sess *sessions.Metadata, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// ResourcesCapability lists and reads resources.
type ResourcesCapability interface {
	ListResources(ctx context.Context, sess *sessions.Metadata, cursor *string) (Page[mcp.Resource], error)
	ReadResource(ctx context.Context, sess *sessions.Metadata, uri string) ([]mcp.ResourceContents, error)
}

// LoggingCapability lets the client adjust the server's log level.
type LoggingCapability interface {
	SetLevel(ctx context.Context, sess *sessions.Metadata, level mcp.LoggingLevel) error
}

// Page is one page of a paginated listing. NextCursor is set when more data
// is available.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page.
type PageOption[T any] func(*Page[T])

// WithNextCursor marks the page as having a successor.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) { p.NextCursor = &cursor }
}

// NewPage builds a Page from items and options.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// parseCursor interprets an opaque cursor as a start offset. Malformed or
// absent cursors mean the first page.
func parseCursor(cursor *string) int {
	if cursor == nil || *cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(*cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// pageSlice cuts one page out of a full listing.
func pageSlice[T any](all []T, pageSize int, cursor *string) Page[T] {
	start := parseCursor(cursor)
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]T, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[T](strconv.Itoa(end)))
	}
	return NewPage(items)
}
