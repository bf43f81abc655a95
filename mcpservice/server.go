package mcpservice

import (
	"context"

	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/sessions"
)

// Server is a static ServerCapabilities implementation assembled from
// options. Absent capabilities are simply not advertised.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	tools        ToolsCapability
	resources    ResourcesCapability
	logging      LoggingCapability
}

var _ ServerCapabilities = (*Server)(nil)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerInfo sets the implementation identity returned from initialize.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) { s.info = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithInstructions sets optional usage guidance included in the initialize
// result when non-empty.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) { s.instructions = instructions }
}

// WithToolsCapability serves tools from the given capability.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *Server) { s.tools = cap }
}

// WithResourcesCapability serves resources from the given capability.
func WithResourcesCapability(cap ResourcesCapability) ServerOption {
	return func(s *Server) { s.resources = cap }
}

// WithLoggingCapability enables logging/setLevel.
func WithLoggingCapability(cap LoggingCapability) ServerOption {
	return func(s *Server) { s.logging = cap }
}

// NewServer assembles a static capability set.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{info: mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) GetServerInfo(ctx context.Context, sess *sessions.Metadata) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *Server) GetInstructions(ctx context.Context, sess *sessions.Metadata) (string, bool, error) {
	return s.instructions, s.instructions != "", nil
}

func (s *Server) GetToolsCapability(ctx context.Context, sess *sessions.Metadata) (ToolsCapability, bool, error) {
	return s.tools, s.tools != nil, nil
}

func (s *Server) GetResourcesCapability(ctx context.Context, sess *sessions.Metadata) (ResourcesCapability, bool, error) {
	return s.resources, s.resources != nil, nil
}

func (s *Server) GetLoggingCapability(ctx context.Context, sess *sessions.Metadata) (LoggingCapability, bool, error) {
	return s.logging, s.logging != nil, nil
}
